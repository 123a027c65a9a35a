package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricesync/internal/fetcher"
)

var (
	extractFile string
	extractURL  string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run the price extractor on saved HTML or a live page",
	Long:  "Debug tool: prints the selected price candidate as JSON, or reports that no price was found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (extractFile == "") == (extractURL == "") {
			return eris.New("exactly one of --file or --url is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var html, sourceURL string
		if extractFile != "" {
			data, err := os.ReadFile(extractFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", extractFile)
			}
			html = string(data)
		} else {
			f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: cfg.Fetch.UserAgent})
			page, err := f.Fetch(cmd.Context(), extractURL)
			if err != nil {
				return err
			}
			html = page.Body
			sourceURL = extractURL
		}

		candidate, ok := env.Extractor.Extract(html, sourceURL)
		if !ok {
			return eris.New("no price found")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidate)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractFile, "file", "", "path to a saved HTML document")
	extractCmd.Flags().StringVar(&extractURL, "url", "", "product page URL to fetch")
	rootCmd.AddCommand(extractCmd)
}
