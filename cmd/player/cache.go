package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jscyril/music_stream_engine/api"
)

func newCacheCmd(open func() (*app, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached and downloaded content",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "size",
			Short: "Print disk space used by the content store",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open()
				if err != nil {
					return err
				}
				defer a.close()

				size := <-a.store.TotalSizeAsync(cmd.Context())
				fmt.Println(humanize.Bytes(uint64(size)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached and downloaded resource",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open()
				if err != nil {
					return err
				}
				defer a.close()

				before := <-a.store.TotalSizeAsync(cmd.Context())
				if err := <-a.store.ClearAsync(cmd.Context()); err != nil {
					return err
				}
				fmt.Printf("freed %s\n", humanize.Bytes(uint64(before)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "ls",
			Short: "List indexed resources",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open()
				if err != nil {
					return err
				}
				defer a.close()

				res := <-a.store.ScanAsync(cmd.Context())
				if res.Err != nil {
					return res.Err
				}
				printIndex(res.Cache, res.Download)
				return nil
			},
		},
		&cobra.Command{
			Use:   "import FILE...",
			Short: "Copy audio files into the download directory",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open()
				if err != nil {
					return err
				}
				defer a.close()

				for _, path := range args {
					desc, err := a.store.Import(cmd.Context(), path)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\n", desc.ID, desc.DisplayName)
				}
				return nil
			},
		},
	)
	return cmd
}

func printIndex(indexes ...map[api.ResourceIdentifier]api.ResourceDescriptor) {
	var all []api.ResourceDescriptor
	for _, idx := range indexes {
		for _, d := range idx {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DisplayName < all[j].DisplayName })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tNAME\tHASH")
	for _, d := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Source, d.DisplayName, d.ContentHash)
	}
	w.Flush()
	fmt.Printf("%d resources\n", len(all))
}
