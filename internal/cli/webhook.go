package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewWebhookCmd создаёт группу команд для управления webhooks.
func NewWebhookCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhooks",
	}

	cmd.AddCommand(
		newWebhookListCmd(clientFn, outputFn),
		newWebhookCreateCmd(clientFn, outputFn),
		newWebhookShowCmd(clientFn, outputFn),
		newWebhookEnableCmd(clientFn, outputFn),
		newWebhookDisableCmd(clientFn, outputFn),
		newWebhookDeleteCmd(clientFn, outputFn),
		newWebhookDeliveriesCmd(clientFn, outputFn),
	)

	return cmd
}

var webhookHeaders = []string{"ID", "URL", "EVENTS", "SECRET", "ENABLED", "CREATED"}

func webhookRow(h *WebhookResponse) []string {
	return []string{
		h.ID, h.URL, strings.Join(h.EventTypes, ","),
		strconv.FormatBool(h.HasSecret), strconv.FormatBool(h.Enabled), h.CreatedAt,
	}
}

func newWebhookListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			webhooks, err := client.ListWebhooks()
			if err != nil {
				return err
			}

			rows := make([][]string, len(webhooks))
			for i := range webhooks {
				rows[i] = webhookRow(&webhooks[i])
			}

			out.Print(webhookHeaders, rows, webhooks)
			return nil
		},
	}
}

func newWebhookCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var webhookURL string
	var secret string
	var events []string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			webhook, err := client.CreateWebhook(CreateWebhookRequest{
				URL:        webhookURL,
				Secret:     secret,
				EventTypes: events,
				Enabled:    !disabled,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Webhook created: %s", webhook.ID))
			out.Print(webhookHeaders, [][]string{webhookRow(webhook)}, webhook)
			return nil
		},
	}

	cmd.Flags().StringVar(&webhookURL, "url", "", "Target URL (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret")
	cmd.Flags().StringSliceVar(&events, "event", nil, "Event type to subscribe to (repeatable, required)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the webhook in disabled state")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("event")

	return cmd
}

func newWebhookShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show webhook details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			webhook, err := client.GetWebhook(args[0])
			if err != nil {
				return err
			}

			out.Print(webhookHeaders, [][]string{webhookRow(webhook)}, webhook)
			return nil
		},
	}
}

func newWebhookEnableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable ID",
		Short: "Enable a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.SetWebhookEnabled(args[0], true); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Webhook enabled: %s", args[0]))
			return nil
		},
	}
}

func newWebhookDisableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable ID",
		Short: "Disable a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.SetWebhookEnabled(args[0], false); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Webhook disabled: %s", args[0]))
			return nil
		},
	}
}

func newWebhookDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWebhook(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Webhook deleted: %s", args[0]))
			return nil
		},
	}
}

func newWebhookDeliveriesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "deliveries WEBHOOK_ID",
		Short: "List delivery attempts of a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			deliveries, err := client.ListWebhookDeliveries(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"DELIVERY_ID", "EVENT", "STATUS", "CODE", "DURATION", "CREATED"}
			rows := make([][]string, len(deliveries))
			for i, d := range deliveries {
				code := ""
				if d.StatusCode != nil {
					code = strconv.Itoa(*d.StatusCode)
				}
				rows[i] = []string{
					d.DeliveryID, d.EventType, d.Status, code,
					strconv.FormatInt(d.DurationMs, 10) + "ms", d.CreatedAt,
				}
			}

			out.Print(headers, rows, deliveries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}
