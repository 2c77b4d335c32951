package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coursemap/internal/catalog"

	"github.com/spf13/cobra"
)

// catalogCmd manages the master catalog of official course codes
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the master catalog of official course codes",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a master catalog from a CSV or JSON file",
	Long: `Replaces the stored master catalog with the contents of the given
file. CSV files need a header row; recognized columns are code, name,
title, category, program_area, grade_level, duration, and credit. JSON
files hold an array of catalog entry objects with the same fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the imported master catalog",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()

	var entries []catalog.MasterCatalogEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = parseCatalogJSON(f)
	case ".csv":
		entries, err = parseCatalogCSV(f)
	default:
		return fmt.Errorf("unsupported catalog format %q (want .csv or .json)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s contains no catalog entries", path)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ImportCatalog(ctx, entries); err != nil {
		return err
	}
	fmt.Printf("Imported %d catalog entries from %s\n", len(entries), path)
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListCatalog(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Master catalog is empty. Run 'coursemap catalog import' first.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-10s %-40s %s\n", e.Code, e.Title, e.ProgramArea)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

func parseCatalogJSON(r io.Reader) ([]catalog.MasterCatalogEntry, error) {
	var entries []catalog.MasterCatalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseCatalogCSV(r io.Reader) ([]catalog.MasterCatalogEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		columns[key] = i
	}
	if _, ok := columns["code"]; !ok {
		return nil, fmt.Errorf("header has no code column")
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var entries []catalog.MasterCatalogEntry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		code := field(row, "code")
		if code == "" {
			continue
		}
		entries = append(entries, catalog.MasterCatalogEntry{
			Code:        code,
			Name:        field(row, "name"),
			Title:       field(row, "title"),
			Category:    field(row, "category"),
			ProgramArea: field(row, "program_area"),
			GradeLevel:  field(row, "grade_level"),
			Duration:    field(row, "duration"),
			Credit:      field(row, "credit"),
		})
	}
	return entries, nil
}
