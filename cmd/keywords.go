package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/store"
)

func keywordsCmd() *cobra.Command {
	var (
		owner    string
		category string
		negative bool
	)

	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage filter terms",
	}
	cmd.PersistentFlags().StringVar(&owner, "owner", "", "owner scope (default: global)")
	cmd.PersistentFlags().StringVar(&category, "category", store.DefaultCategory, "term category")
	cmd.PersistentFlags().BoolVar(&negative, "negative", false, "exclusion term (vetoes a message on match)")

	polarity := func() store.Polarity {
		if negative {
			return store.Negative
		}
		return store.Positive
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <term>",
		Short: "Add a filter term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, _ *config.Config, stores store.Stores) error {
				term := keyword.Normalize(args[0])
				if term == "" {
					return fmt.Errorf("term must not be empty")
				}
				err := stores.Keywords.AddKeyword(ctx, store.Keyword{
					OwnerID:  owner,
					Polarity: polarity(),
					Category: category,
					Term:     term,
				})
				if err != nil {
					return err
				}
				fmt.Printf("added %s term %q (category %s)\n", polarity(), term, category)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <term>",
		Short: "Remove a filter term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, _ *config.Config, stores store.Stores) error {
				term := keyword.Normalize(args[0])
				if err := stores.Keywords.RemoveKeyword(ctx, owner, polarity(), category, term); err != nil {
					return err
				}
				fmt.Printf("removed %s term %q (category %s)\n", polarity(), term, category)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List filter terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, _ *config.Config, stores store.Stores) error {
				terms, err := stores.Keywords.ListKeywords(ctx, owner)
				if err != nil {
					return err
				}
				if len(terms) == 0 {
					fmt.Println("no filter terms")
					return nil
				}
				for _, kw := range terms {
					scope := kw.OwnerID
					if scope == store.GlobalOwner {
						scope = "global"
					}
					fmt.Printf("%s\t%s\t%s\towner=%s\n", kw.Polarity, kw.Category, kw.Term, scope)
				}
				return nil
			})
		},
	})

	return cmd
}
