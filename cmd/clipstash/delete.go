package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete entries and their stored payloads",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runDelete(cmd.Context(), v, args) },
	}
	addClientFlags(cmd)
	return cmd
}

func runDelete(ctx context.Context, v *viper.Viper, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	c, err := newClient(v)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, ids); err != nil {
		return err
	}
	fmt.Printf("deleted %d entries\n", len(ids))
	return nil
}

func newDescribeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "describe <id> <text>",
		Short: "Replace an entry's description",
		Long: `Replaces the description stored with an entry. Only entries captured
with a description can be edited.`,
		Args:    cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runDescribe(cmd.Context(), v, args[0], args[1]) },
	}
	addClientFlags(cmd)
	return cmd
}

func runDescribe(ctx context.Context, v *viper.Viper, arg, text string) error {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return err
	}
	c, err := newClient(v)
	if err != nil {
		return err
	}
	return c.UpdateDescription(ctx, ids[0], text)
}
