package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solbridge/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Bridge event streaming commands",
		Subcommands: []*cli.Command{
			tailCommand(),
			streamCommand(),
			inspectStreamCommand(),
		},
	}
}

// subjectFor maps an optional outcome argument to a JetStream subject.
func subjectFor(outcome string) (string, error) {
	switch natspkg.Outcome(outcome) {
	case "":
		return natspkg.StreamSubjects, nil
	case natspkg.OutcomeCompleted, natspkg.OutcomeRejected, natspkg.OutcomeManualAction:
		return natspkg.Outcome(outcome).Subject(), nil
	default:
		return "", fmt.Errorf("unknown outcome %q: must be completed, rejected or manual_action", outcome)
	}
}

// compileJQFilters parses and compiles every filter up front so a typo fails
// before connecting.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesFilters reports whether every filter yields a truthy first result
// for the raw JSON event.
func matchesFilters(codes []*gojq.Code, data []byte) bool {
	if len(codes) == 0 {
		return true
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// tailCommand follows bridge events straight from JetStream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Follow bridge events from NATS JetStream",
		ArgsUsage: "[completed|rejected|manual_action]",
		Description: `Stream bridge events published to the BRIDGE stream.

Events are published to bridge.{outcome}. Use --must-jq to keep only events
for which every filter is truthy.

Example:
  solbridge events tail manual_action
  solbridge events tail --must-jq '.network == "AVAX"' --must-jq '(.verified_amount | tonumber) > 100'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter that must evaluate truthy (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay the whole stream instead of only new events",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := subjectFor(c.Args().First())
			if err != nil {
				return err
			}
			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			deliver := jetstream.DeliverNewPolicy
			if c.Bool("all") {
				deliver = jetstream.DeliverAllPolicy
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: deliver,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(os.Stderr, "Waiting for bridge events... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					msg.Ack()
					if !matchesFilters(codes, msg.Data()) {
						continue
					}
					count++
					if err := printEvent(msg.Data(), jsonOutput); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
					}

				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\n✅ Received %d events\n", count)
					}
					return nil
				}
			}
		},
	}
}

func printEvent(data []byte, jsonOutput bool) error {
	if jsonOutput {
		fmt.Println(string(data))
		return nil
	}

	var event natspkg.BridgeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("%s  %s\n", strings.ToUpper(string(event.Outcome)), event.SourceTxID)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	if event.Network != "" {
		fmt.Printf("Network:      %s\n", event.Network)
	}
	fmt.Printf("Target:       %s\n", event.TargetWallet)
	fmt.Printf("Claimed:      %s USDC\n", event.ClaimedAmount)
	if event.VerifiedAmount != "" {
		fmt.Printf("Verified:     %s USDC\n", event.VerifiedAmount)
	}
	if event.TxHash != "" {
		fmt.Printf("Payout Tx:    %s\n", event.TxHash)
	}
	if event.ErrorCode != "" {
		fmt.Printf("Error:        %s: %s\n", event.ErrorCode, event.Error)
	}
	if event.RequiresManualAction {
		fmt.Printf("⚠️  Manual action required\n")
	}
	fmt.Printf("Processed:    %s\n\n", event.ProcessedAt.Format(time.RFC3339))
	return nil
}

// streamCommand follows bridge events through the server's SSE endpoint.
func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream bridge events via SSE (HTTP)",
		ArgsUsage: "[completed|rejected|manual_action]",
		Action: func(c *cli.Context) error {
			url := c.String("server-url") + "/api/v1/stream/events"
			if outcome := c.Args().First(); outcome != "" {
				url += "/" + outcome
			}
			jsonOutput := c.Bool("json")

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// No timeout for streaming
			resp, err := (&http.Client{}).Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming bridge events... (Ctrl+C to stop)\n\n")
			}

			err = readSSE(resp.Body, func(event, data string) error {
				return handleSSEEvent(event, data, jsonOutput)
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("error reading SSE stream: %w", err)
			}
			return nil
		},
	}
}

// readSSE splits an event stream into (event, data) pairs. Comment lines
// such as keepalives are skipped.
func readSSE(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := handle(currentEvent, currentData); err != nil {
					fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	return scanner.Err()
}

func handleSSEEvent(eventType, data string, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			var info map[string]interface{}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Subscribed to %v\n\n", info["subject"])
		}
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	case string(natspkg.OutcomeCompleted), string(natspkg.OutcomeRejected), string(natspkg.OutcomeManualAction):
		return printEvent([]byte(data), jsonOutput)

	default:
		// Unknown event type, ignore
		return nil
	}
}

// inspectStreamCommand shows information about the BRIDGE JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the BRIDGE JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return printJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
