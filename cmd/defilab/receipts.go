package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"defilab/storage/receipts"
)

type receiptView struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Code      uint32 `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Events    int    `json:"events"`
	Writes    int    `json:"writes"`
	StartedAt string `json:"started_at"`
}

func newReceiptsCmd() *cobra.Command {
	var (
		path   string
		status string
		name   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List recorded execution-unit receipts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Receipts
			}
			if path == "" {
				return fmt.Errorf("no receipts database configured; pass --receipts")
			}
			store, err := receipts.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.List(cmd.Context(), receipts.Filter{Status: status, Name: name, Limit: limit})
			if err != nil {
				return err
			}
			out := make([]receiptView, 0, len(rows))
			for _, row := range rows {
				evts, err := row.Events()
				if err != nil {
					return err
				}
				out = append(out, receiptView{
					ID:        row.ID.String(),
					Seq:       row.Seq,
					Name:      row.Name,
					Status:    row.Status,
					Code:      row.Code,
					Reason:    row.Reason,
					Events:    len(evts),
					Writes:    row.Writes,
					StartedAt: row.StartedAt.Format("2006-01-02T15:04:05.000Z07:00"),
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&path, "receipts", "", "sqlite receipts database (defaults to the config value)")
	cmd.Flags().StringVar(&status, "status", "", "only committed or reverted units")
	cmd.Flags().StringVar(&name, "name", "", "only units with this name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}
