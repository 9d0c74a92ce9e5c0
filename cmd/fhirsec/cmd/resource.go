package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nithinmohantk/fhir-security/pkg/clierror"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)

	searchCmd.Flags().StringArrayP("param", "p", nil, "Search parameter as name=value (repeatable)")
	createCmd.Flags().StringP("file", "f", "", "Resource JSON file ('-' for stdin)")
}

var getCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Read a FHIR resource",
	Long: `Read a single FHIR resource by type and logical id over a
DPoP-signed request.

Examples:
  fhirsec get Patient p1
  fhirsec get Observation sepsis-lactate-42 -o json`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	raw, err := sess.repo.Read(cmd.Context(), args[0], args[1])
	if err != nil {
		return clierror.FromError(err, sess.cfg.ServerURL)
	}
	return printResource(raw)
}

var searchCmd = &cobra.Command{
	Use:   "search <type>",
	Short: "Search FHIR resources",
	Long: `Search a FHIR resource type and print the result Bundle.

Examples:
  fhirsec search Observation -p code=8867-4 -p _count=10
  fhirsec search Patient -p name=smith`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	rawParams, _ := cmd.Flags().GetStringArray("param")
	params := url.Values{}
	for _, p := range rawParams {
		name, value, found := strings.Cut(p, "=")
		if !found || name == "" {
			return clierror.ConfigInvalid(fmt.Sprintf("search parameter %q is not name=value", p))
		}
		params.Add(name, value)
	}

	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	raw, err := sess.repo.Search(cmd.Context(), args[0], params)
	if err != nil {
		return clierror.FromError(err, sess.cfg.ServerURL)
	}
	return printResource(raw)
}

var createCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Create a FHIR resource",
	Long: `Create a FHIR resource from a JSON file or stdin.

Examples:
  fhirsec create Observation -f observation.json
  cat observation.json | fhirsec create Observation -f -`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return clierror.ConfigInvalid("--file is required")
	}

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return clierror.InternalError(err)
	}
	if !json.Valid(data) {
		return clierror.ConfigInvalid("resource body is not valid JSON")
	}

	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	raw, err := sess.repo.Create(cmd.Context(), args[0], data)
	if err != nil {
		return clierror.FromError(err, sess.cfg.ServerURL)
	}
	return printResource(raw)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete a FHIR resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.repo.Delete(cmd.Context(), args[0], args[1]); err != nil {
			return clierror.FromError(err, sess.cfg.ServerURL)
		}
		fmt.Printf("Deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

// printResource pretty-prints raw FHIR JSON regardless of output format;
// yaml output converts the document.
func printResource(raw json.RawMessage) error {
	if outputFormat == "yaml" {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return clierror.InternalError(err)
		}
		return outputYAML(doc)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// Not JSON after all; print verbatim.
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
