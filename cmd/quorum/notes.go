package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/export"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/vault"
)

var notesSearch string

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Inspect the knowledge notes",
	Long: `List, read and delete the notes saved by the knowledge agent.
Encrypted notes are opened with vault.passphrase from the config
(or $QUORUM_VAULT_PASSPHRASE).`,
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openNotes()
		if err != nil {
			return err
		}
		defer db.Close()

		var notes []store.Note
		if notesSearch != "" {
			notes, err = db.SearchNotes(notesSearch, 50)
		} else {
			notes, err = db.ListNotes(50)
		}
		if err != nil {
			return err
		}
		return printNotes(cmd.OutOrStdout(), notes)
	},
}

var notesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one note, decrypting it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, v, err := openNotes()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.GetNote(args[0])
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("note %s not found", args[0])
		}
		content := n.Content
		if n.Encrypted {
			if v == nil {
				return fmt.Errorf("note %s is encrypted and no vault passphrase is configured", n.ID)
			}
			if content, err = v.OpenString(n.Content); err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n%s\n", n.Title, content)
		return nil
	},
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openNotes()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.DeleteNote(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note %s deleted.\n", args[0])
		return nil
	},
}

var exportsCmd = &cobra.Command{
	Use:   "exports [name]",
	Short: "List exported documents or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ex := export.New(cfg.Export.Dir)
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			content, err := ex.Read(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, content)
			return nil
		}

		docs, err := ex.List()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(out, "No exported documents.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tCREATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name, d.Size, d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	notesListCmd.Flags().StringVar(&notesSearch, "search", "", "Only notes matching this text")
	notesCmd.AddCommand(notesListCmd, notesGetCmd, notesDeleteCmd)
	rootCmd.AddCommand(notesCmd, exportsCmd)
}

// openNotes opens the store and, when a passphrase is configured, the vault.
func openNotes() (*store.Store, *vault.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		if v, err = vault.New(cfg.Vault.Passphrase); err != nil {
			return nil, nil, fmt.Errorf("init vault: %w", err)
		}
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return db, v, nil
}

func printNotes(out io.Writer, notes []store.Note) error {
	if len(notes) == 0 {
		fmt.Fprintln(out, "No notes stored.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSOURCE\tENCRYPTED\tCREATED")
	for _, n := range notes {
		enc := ""
		if n.Encrypted {
			enc = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Title, n.Source, enc, n.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
