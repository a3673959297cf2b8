package main

import (
	"fmt"

	"github.com/abia-desktop/abia/llm"
	"github.com/abia-desktop/abia/llm/deepseek"
	"github.com/spf13/cobra"
)

type requestFlags struct {
	system      string
	model       string
	temperature float64
	maxTokens   int
	requestID   string
	noCache     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.system, "system", "s", "", "System prompt")
	cmd.Flags().StringVar(&f.model, "model", "", "Model override")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "Sampling temperature in [0, 2]")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate")
}

func (f *requestFlags) options(cmd *cobra.Command) deepseek.RequestOptions {
	opts := deepseek.RequestOptions{
		Model:     f.model,
		MaxTokens: f.maxTokens,
		RequestID: f.requestID,
		SkipCache: f.noCache,
	}
	if cmd.Flags().Changed("temperature") {
		temperature := f.temperature
		opts.Temperature = &temperature
	}
	return opts
}

func (f *requestFlags) messages(prompt string) []llm.Message {
	msgs := make([]llm.Message, 0, 2)
	if f.system != "" {
		msgs = append(msgs, llm.SystemMessage(f.system))
	}
	return append(msgs, llm.UserMessage(prompt))
}

func newChatCommand(ctx *commandContext) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			resp, err := client.SendRequest(cmd.Context(), flags.messages(prompt), flags.options(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), deepseek.FirstContent(resp))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.requestID, "request-id", "", "Request id for the response cache key (the cache lives only as long as this process)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Bypass the response cache")
	return cmd
}

func newStreamCommand(ctx *commandContext) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "stream [prompt...]",
		Short: "Send a prompt and print the reply as it is generated",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			client, err := ctx.deepseekClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = client.StreamRequest(cmd.Context(), flags.messages(prompt), func(chunk string) {
				fmt.Fprint(out, chunk)
			}, flags.options(cmd))
			fmt.Fprintln(out)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
