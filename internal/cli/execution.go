package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage flow executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
		newExecutionStepsCmd(clientFn, outputFn),
	)

	return cmd
}

var executionHeaders = []string{"ID", "FLOW_ID", "STATUS", "ERROR", "CREATED"}

func executionRow(e *ExecutionResponse) []string {
	return []string{e.ID, e.FlowID, e.Status, e.Error, e.CreatedAt}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flowID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			executions, err := client.ListExecutions(ListExecutionsOpts{
				FlowID: flowID,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(executions))
			for i := range executions {
				rows[i] = executionRow(&executions[i])
			}

			out.Print(executionHeaders, rows, executions)
			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow-id", "", "Filter by flow ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var variables []string
	var userID string
	var durable bool

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Start a flow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ExecuteFlowRequest{UserID: userID}

			if len(variables) > 0 {
				req.Variables = make(map[string]any)
				for _, kv := range variables {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid variable format %q, expected KEY=VALUE", kv)
					}
					req.Variables[parts[0]] = parts[1]
				}
			}

			if durable {
				enqueued, err := client.EnqueueFlow(args[0], req)
				if err != nil {
					return err
				}

				out.Success(fmt.Sprintf("Execution enqueued: %s", enqueued.ExecutionID))
				out.Print(
					[]string{"EXECUTION_ID", "STATUS"},
					[][]string{{enqueued.ExecutionID, enqueued.Status}},
					enqueued,
				)
				return nil
			}

			result, err := client.ExecuteFlow(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution finished: %s (%s)", result.ExecutionID, result.Status))
			out.Print(
				[]string{"EXECUTION_ID", "STATUS", "COMPLETED", "FAILED", "SKIPPED", "ERROR"},
				[][]string{{
					result.ExecutionID, result.Status,
					fmt.Sprintf("%d/%d", result.CompletedSteps, result.TotalSteps),
					strconv.Itoa(result.FailedSteps),
					strconv.Itoa(result.SkippedSteps),
					result.Error,
				}},
				result,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&variables, "var", nil, "Flow variables as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&userID, "user-id", "", "User ID to record on the execution")
	cmd.Flags().BoolVar(&durable, "durable", false, "Enqueue a durable execution instead of running synchronously")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execution, err := client.GetExecution(args[0])
			if err != nil {
				return err
			}

			out.Print(executionHeaders, [][]string{executionRow(execution)}, execution)
			return nil
		},
	}
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a durable execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execution, err := client.CancelExecution(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution cancelled: %s", execution.ID))
			return nil
		},
	}
}

func newExecutionStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps EXECUTION_ID",
		Short: "List step logs of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ListExecutionSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP_ID", "NAME", "STATE", "ATTEMPT", "DURATION", "ERROR"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{
					s.StepID, s.StepName, s.State,
					strconv.Itoa(s.Attempt),
					strconv.FormatInt(s.DurationMs, 10) + "ms",
					s.Error,
				}
			}

			out.Print(headers, rows, steps)
			return nil
		},
	}
}
