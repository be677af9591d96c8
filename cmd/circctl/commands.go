package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"circulation/internal/api"
	"circulation/internal/client"
	"circulation/internal/models"
)

const defaultServer = "http://localhost:8080"

type cli struct {
	server string
	out    io.Writer
}

func (c *cli) client() *client.Client {
	return client.New(c.server, nil)
}

// table returns a writer that aligns tab-separated columns; call Flush when done
func (c *cli) table(header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	return w
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "circctl",
		Short:         "Manage books, readers and loans of a circulation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("CIRCULATION_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&c.server, "server", server, "circulation server URL (env CIRCULATION_URL)")
	root.SetOut(out)

	root.AddCommand(
		c.booksCmd(),
		c.readersCmd(),
		c.borrowCmd(),
		c.returnCmd(),
		c.loansCmd(),
		c.overdueCmd(),
		c.topCmd(),
		c.auditCmd(),
	)
	return root
}

func (c *cli) booksCmd() *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Catalog commands"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.client().ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(c.out, "No books in the catalog.")
				return nil
			}
			w := c.table("ID", "ISBN", "TITLE", "AUTHOR", "AVAILABLE")
			for _, b := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n", b.ID, b.ISBN, b.Title, b.Author, b.AvailableCopies, b.TotalCopies)
			}
			return w.Flush()
		},
	}

	var req api.AddBookRequest
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a title to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := c.client().AddBook(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Added %q (%d copies) with ID %s\n", book.Title, book.TotalCopies, book.ID)
			return nil
		},
	}
	add.Flags().StringVar(&req.ISBN, "isbn", "", "ISBN")
	add.Flags().StringVar(&req.Title, "title", "", "title")
	add.Flags().StringVar(&req.Author, "author", "", "author")
	add.Flags().IntVar(&req.Copies, "copies", 1, "number of copies owned")
	_ = add.MarkFlagRequired("isbn")
	_ = add.MarkFlagRequired("title")

	total := &cobra.Command{
		Use:   "total <book-id> <copies>",
		Short: "Change the number of owned copies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("copies must be a number: %q", args[1])
			}
			book, err := c.client().ChangeTotal(cmd.Context(), id, n)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: %d/%d available\n", book.Title, book.AvailableCopies, book.TotalCopies)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <book-id>",
		Short: "Remove a book with no copies on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			if err := c.client().RemoveBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Removed book %s\n", id)
			return nil
		},
	}

	books.AddCommand(list, add, total, remove)
	return books
}

func (c *cli) readersCmd() *cobra.Command {
	readers := &cobra.Command{Use: "readers", Short: "Membership commands"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.client().ListReaders(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(c.out, "No readers registered.")
				return nil
			}
			w := c.table("ID", "NAME", "EMAIL", "ACTIVE")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.ID, r.Name, r.Email, r.Active)
			}
			return w.Flush()
		},
	}

	var req api.RegisterReaderRequest
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			reader, err := c.client().RegisterReader(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Registered %s with ID %s\n", reader.Name, reader.ID)
			return nil
		},
	}
	add.Flags().StringVar(&req.Email, "email", "", "email address")
	add.Flags().StringVar(&req.Phone, "phone", "", "phone number")

	readers.AddCommand(list, add, c.setActiveCmd("deactivate", false), c.setActiveCmd("reactivate", true))
	return readers
}

func (c *cli) setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <reader-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a reader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "reader")
			if err != nil {
				return err
			}
			reader, err := c.client().SetReaderActive(cmd.Context(), id, active)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s active: %t\n", reader.Name, reader.Active)
			return nil
		},
	}
}

func (c *cli) borrowCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "borrow <reader-id> <book-id>",
		Short: "Lend a copy of a book to a reader",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			readerID, err := parseID(args[0], "reader")
			if err != nil {
				return err
			}
			bookID, err := parseID(args[1], "book")
			if err != nil {
				return err
			}
			loan, err := c.client().Borrow(cmd.Context(), readerID, bookID, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Loan %s due %s\n", loan.ID, loan.DueAt.Format(api.DateLayout))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "loan period in days (0 uses the server default)")
	return cmd
}

func (c *cli) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Close a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "loan")
			if err != nil {
				return err
			}
			loan, err := c.client().Return(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Loan %s returned at %s\n", loan.ID, loan.ReturnedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func (c *cli) loansCmd() *cobra.Command {
	var reader string
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List active loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var readerID *uuid.UUID
			if reader != "" {
				id, err := parseID(reader, "reader")
				if err != nil {
					return err
				}
				readerID = &id
			}
			loans, err := c.client().ActiveLoans(cmd.Context(), readerID)
			if err != nil {
				return err
			}
			return c.printLoans(loans, "No active loans.")
		},
	}
	cmd.Flags().StringVar(&reader, "reader", "", "only loans of this reader")
	return cmd
}

func (c *cli) overdueCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List loans past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var at time.Time
			if asOf != "" {
				t, err := time.Parse(api.DateLayout, asOf)
				if err != nil {
					return fmt.Errorf("as-of must be YYYY-MM-DD: %q", asOf)
				}
				at = t
			}
			loans, err := c.client().Overdue(cmd.Context(), at)
			if err != nil {
				return err
			}
			return c.printLoans(loans, "No overdue loans.")
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date YYYY-MM-DD (default now)")
	return cmd
}

func (c *cli) printLoans(loans []models.BorrowRecord, empty string) error {
	if len(loans) == 0 {
		fmt.Fprintln(c.out, empty)
		return nil
	}
	w := c.table("LOAN", "READER", "BOOK", "BORROWED", "DUE")
	for _, l := range loans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.ReaderID, l.BookID,
			l.BorrowedAt.Format(api.DateLayout), l.DueAt.Format(api.DateLayout))
	}
	return w.Flush()
}

func (c *cli) topCmd() *cobra.Command {
	var n int
	top := &cobra.Command{Use: "top", Short: "Usage rankings"}
	top.PersistentFlags().IntVarP(&n, "limit", "n", 10, "number of entries (0 for all)")

	books := &cobra.Command{
		Use:   "books",
		Short: "Most borrowed books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.client().TopBooks(cmd.Context(), n)
			if err != nil {
				return err
			}
			w := c.table("#", "BOOK", "LOANS")
			for i, s := range stats {
				fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, s.BookID, s.LoanCount)
			}
			return w.Flush()
		},
	}

	readers := &cobra.Command{
		Use:   "readers",
		Short: "Readers with the most loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.client().TopReaders(cmd.Context(), n)
			if err != nil {
				return err
			}
			w := c.table("#", "READER", "LOANS")
			for i, s := range stats {
				fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, s.ReaderID, s.LoanCount)
			}
			return w.Flush()
		},
	}

	top.AddCommand(books, readers)
	return top
}

func (c *cli) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check copy counters against active loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := c.client()
			active, err := cl.CountActive(cmd.Context())
			if err != nil {
				return err
			}
			found, err := cl.Audit(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Active loans: %d\n", active)
			if len(found) == 0 {
				fmt.Fprintln(c.out, "No discrepancies found.")
				return nil
			}
			w := c.table("KIND", "BOOK", "READER", "LOAN", "TOTAL", "AVAILABLE", "ACTIVE")
			for _, d := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n", d.Kind, d.BookID, d.ReaderID, d.LoanID, d.Total, d.Available, d.ActiveLoans)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return fmt.Errorf("%d discrepancies found", len(found))
		},
	}
}

func parseID(s, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be an ID: %q", what, s)
	}
	return id, nil
}
