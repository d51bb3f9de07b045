package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-speech-bridge/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	subject   string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "speechctl",
	Short:        "Drive a speech recognition bridge over NATS",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", nats.DefaultURL, "NATS server URL")
	rootCmd.PersistentFlags().StringVar(&subject, "subject", protocol.SubjectCommand, "Command subject of the bridge")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for replies")

	rootCmd.AddCommand(
		simpleCmd("init", "Initialize the recognizer"),
		startCmd(),
		simpleCmd("stop", "Stop listening and deliver what was heard"),
		simpleCmd("abort", "Abort the current session"),
		approveCmd(),
	)
}

func simpleCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			sub, err := send(conn, action)
			if err != nil {
				return err
			}
			reply, err := nextReply(sub, timeout)
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			printReply(reply)
			if reply.Status == protocol.StatusError {
				return fmt.Errorf("%s failed: %s", action, reply.Message)
			}
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var (
		lang            string
		interim         bool
		maxAlternatives int
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session and stream its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			sub, err := send(conn, "start", lang, interim, maxAlternatives)
			if err != nil {
				return err
			}
			return streamSession(sub, timeout)
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "en", "Recognition language")
	cmd.Flags().BoolVar(&interim, "interim", false, "Deliver interim results")
	cmd.Flags().IntVar(&maxAlternatives, "max-alternatives", 1, "Maximum alternatives per result")

	return cmd
}

func approveCmd() *cobra.Command {
	var (
		deny bool
		once bool
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Answer microphone permission prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			answer, err := json.Marshal(protocol.PermissionAnswer{Granted: !deny})
			if err != nil {
				return err
			}
			sub, err := conn.SubscribeSync(protocol.SubjectPermissionRequest)
			if err != nil {
				return fmt.Errorf("subscribe permission prompts: %w", err)
			}
			defer func() { _ = sub.Unsubscribe() }()

			interrupted := make(chan os.Signal, 1)
			signal.Notify(interrupted, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(interrupted)

			for {
				select {
				case <-interrupted:
					return nil
				default:
				}
				msg, err := sub.NextMsg(500 * time.Millisecond)
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				if err != nil {
					return err
				}
				var prompt protocol.PermissionPrompt
				if err := json.Unmarshal(msg.Data, &prompt); err != nil {
					fmt.Fprintf(os.Stderr, "invalid prompt: %v\n", err)
					continue
				}
				if err := msg.Respond(answer); err != nil {
					return fmt.Errorf("answer prompt: %w", err)
				}
				fmt.Printf("%s %s permission for %s\n", verdict(!deny), prompt.Permission, prompt.NodeID)
				if once {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&deny, "deny", false, "Deny instead of grant")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after answering one prompt")

	return cmd
}

func verdict(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}

func connect() (*nats.Conn, error) {
	conn, err := nats.Connect(serverURL, nats.Name("speechctl"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", serverURL, err)
	}
	return conn, nil
}

func send(conn *nats.Conn, action string, args ...any) (*nats.Subscription, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	payload, err := json.Marshal(protocol.Command{Action: action, Args: raw})
	if err != nil {
		return nil, err
	}
	inbox := conn.NewRespInbox()
	sub, err := conn.SubscribeSync(inbox)
	if err != nil {
		return nil, fmt.Errorf("subscribe replies: %w", err)
	}
	if err := conn.PublishRequest(subject, inbox, payload); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("publish %s: %w", action, err)
	}
	return sub, nil
}

type sessionEvent struct {
	Type    string `json:"type"`
	Results [][]struct {
		Final bool `json:"final"`
	} `json:"results"`
}

// streamSession prints replies until the session settles: a final result, a
// nomatch, or the end event that follows an error.
func streamSession(sub *nats.Subscription, wait time.Duration) error {
	defer func() { _ = sub.Unsubscribe() }()
	deadline := time.Now().Add(wait)
	failed := false
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("timed out waiting for session to finish")
		}
		reply, err := nextReply(sub, remaining)
		if err != nil {
			return err
		}
		printReply(reply)
		if reply.Status == protocol.StatusError {
			failed = true
		}
		if !reply.Keep {
			if failed {
				return fmt.Errorf("start failed: %s", reply.Message)
			}
			return nil
		}
		var event sessionEvent
		if len(reply.Event) > 0 {
			if err := json.Unmarshal(reply.Event, &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
		}
		switch event.Type {
		case "nomatch":
			return nil
		case "end":
			if failed {
				return errors.New("session ended with an error")
			}
		case "result":
			if len(event.Results) > 0 && len(event.Results[0]) > 0 && event.Results[0][0].Final {
				return nil
			}
		}
	}
}

func nextReply(sub *nats.Subscription, wait time.Duration) (protocol.Reply, error) {
	var reply protocol.Reply
	msg, err := sub.NextMsg(wait)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return reply, errors.New("no reply from bridge")
		}
		return reply, err
	}
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return reply, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

func printReply(reply protocol.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode reply: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
