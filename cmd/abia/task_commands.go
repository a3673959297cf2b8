package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/abia-desktop/abia/llm/deepseek"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newSummarizeCommand(ctx *commandContext) *cobra.Command {
	var maxWords int
	cmd := &cobra.Command{
		Use:   "summarize [text...]",
		Short: "Summarise text from arguments or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			summary, err := client.Summarize(cmd.Context(), text, maxWords)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxWords, "max-words", "n", deepseek.DefaultSummaryWords, "Maximum summary length in words")
	return cmd
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "extract --fields a,b [text...]",
		Short: "Extract named fields from text as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields = lo.Compact(lo.Map(fields, func(f string, _ int) string { return strings.TrimSpace(f) }))
			if len(fields) == 0 {
				return fmt.Errorf("--fields is required")
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			extracted, err := client.ExtractInformation(cmd.Context(), text, fields)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(extracted)
		},
	}
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "Comma-separated field names")
	return cmd
}

func newAnswerCommand(ctx *commandContext) *cobra.Command {
	var contextText, contextFile string
	cmd := &cobra.Command{
		Use:   "answer --context text|--context-file path question...",
		Short: "Answer a question from the supplied context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contextFile != "" {
				data, err := os.ReadFile(contextFile) //#nosec G304 -- user-selected context file
				if err != nil {
					return fmt.Errorf("read context file: %w", err)
				}
				contextText = string(data)
			}
			if strings.TrimSpace(contextText) == "" {
				return fmt.Errorf("--context or --context-file is required")
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			answer, err := client.AnswerQuestion(cmd.Context(), strings.Join(args, " "), contextText)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&contextText, "context", "", "Context text")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "Read context from a file")
	cmd.MarkFlagsMutuallyExclusive("context", "context-file")
	return cmd
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var temperature float64
	var maxTokens int
	cmd := &cobra.Command{
		Use:   "create [prompt...]",
		Short: "Generate creative text",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			opts := deepseek.RequestOptions{MaxTokens: maxTokens}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}
			text, err := client.GenerateCreativeTextWithOptions(cmd.Context(), prompt, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature (default 0.9)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate (default 2000)")
	return cmd
}
