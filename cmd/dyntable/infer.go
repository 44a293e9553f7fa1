package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dynamic-table/internal/inference"
	"dynamic-table/internal/service"
)

var inferOpts struct {
	primaryKey []string
	sample     int
}

var inferCmd = &cobra.Command{
	Use:   "infer <file.csv>",
	Short: "Print the field map inferred for a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		resp, err := inferCSV(f, inferOpts.primaryKey, inferOpts.sample)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func inferCSV(r io.Reader, primaryKey []string, sample int) (*service.InferResponse, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for sample <= 0 || len(rows) < sample {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}

	svc := service.NewInferService(inference.NewEngine(inference.Options{SampleLimit: sample}))
	return svc.Infer(&service.InferRequest{Headers: headers, Rows: rows, PrimaryKey: primaryKey}), nil
}

func init() {
	inferCmd.Flags().StringSliceVar(&inferOpts.primaryKey, "primary-key", nil, "columns to mark as primary key")
	inferCmd.Flags().IntVar(&inferOpts.sample, "sample", 0, "rows to sample (0 reads the whole file)")
	RootCmd.AddCommand(inferCmd)
}
