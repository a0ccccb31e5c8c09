package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/config"
	"github.com/kingrea/plugd/internal/logbook"
	"github.com/kingrea/plugd/internal/registry"
	"github.com/kingrea/plugd/internal/resolver"
	"github.com/kingrea/plugd/plugins"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
)

func (c *cli) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .plugd directory with a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := c.projectDir()
			if err != nil {
				return err
			}
			if err := config.InitDir(dir); err != nil {
				return fmt.Errorf("init .plugd: %w", err)
			}
			cfg := config.Default(dir)
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", cfg.PlugdProjectDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Add plugin definitions under %s\n", cfg.PluginsDir())
			return nil
		},
	}
}

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load plugin definitions and check their ordering constraints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			plan, err := resolvePlan(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cycles := plan.Cycles()
			for _, cycle := range cycles {
				fmt.Fprintf(out, "%s ordering cycle: %s\n", warnStyle.Render("warning"), strings.Join(cycle, " -> "))
			}
			fmt.Fprintf(out, "%s %d plugin(s) loaded, %d cycle(s)\n", okStyle.Render("ok"), len(plan.Order), len(cycles))
			return nil
		},
	}
}

func (c *cli) newOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the resolved plugin start order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			plan, err := resolvePlan(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			renderOrder(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func (c *cli) newHistoryCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent startup events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			book, err := logbook.New(cfg.LogbookFile())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			entries, total := book.Tail(lines)
			if total == 0 {
				fmt.Fprintln(out, "no startup history")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintln(out, entry)
			}
			if total > len(entries) {
				fmt.Fprintf(out, "(%d of %d entries)\n", len(entries), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of entries to show")
	return cmd
}

func resolvePlan(cfg *config.Config, logger *zap.Logger) (resolver.Plan, error) {
	reg := registry.New(registry.WithLogger(logger))
	if _, err := plugins.RegisterDeclared(reg, cfg); err != nil {
		return resolver.Plan{}, err
	}
	if err := reg.Lock(); err != nil {
		return resolver.Plan{}, err
	}
	return reg.Plan()
}

func renderOrder(out io.Writer, plan resolver.Plan) {
	if len(plan.Order) == 0 {
		fmt.Fprintln(out, "no plugins found")
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers("#", "RANK", "NAME", "IDENTITY").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for i, p := range plan.Order {
		rank, _ := plan.Rank(p.Name())
		t.Row(strconv.Itoa(i+1), strconv.Itoa(rank), p.Name(), p.Identity().String())
	}
	fmt.Fprintln(out, t.Render())
}
