package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/coder/websocket"
	"github.com/spf13/cobra"
)

type askOptions struct {
	server     string
	portID     string
	questionID string
	rate       string
	timeout    time.Duration
	idle       time.Duration
}

var askOpts askOptions

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := askOpts
		opts.server = serverURL
		opts.portID = portID
		if _, err := ratingFlag(opts.rate); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runAsk(ctx, opts, strings.Join(args, " "), cmd.OutOrStdout())
	},
}

func init() {
	askCmd.Flags().StringVar(&askOpts.rate, "rate", "", "Rate the answer when it finishes: up or down")
	askCmd.Flags().StringVar(&askOpts.questionID, "question-id", "", "Question id to attach to the request and feedback")
	askCmd.Flags().DurationVar(&askOpts.timeout, "timeout", 60*time.Second, "How long to wait for the first increment")
	askCmd.Flags().DurationVar(&askOpts.idle, "idle", 3*time.Second, "Treat the answer as finished after this long without an increment")
	rootCmd.AddCommand(askCmd)
}

func ratingFlag(v string) (domain.Rating, error) {
	switch strings.ToLower(v) {
	case "":
		return "", nil
	case "up":
		return domain.RatingThumbsUp, nil
	case "down":
		return domain.RatingThumbsDown, nil
	default:
		return "", fmt.Errorf("--rate must be up or down, got %q", v)
	}
}

func channelURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/ws/port")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"name": {"main-port"}}.Encode()
	return u.String(), nil
}

// runAsk opens a channel, asks question and renders the answer. The
// protocol has no end-of-answer message, so the answer is considered done
// once no increment arrives for opts.idle. Reads run in their own goroutine
// because an expired read context closes the websocket.
func runAsk(ctx context.Context, opts askOptions, question string, out io.Writer) error {
	rating, err := ratingFlag(opts.rate)
	if err != nil {
		return err
	}
	wsURL, err := channelURL(opts.server)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-OGPT-Port-ID": {opts.portID}},
	})
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer conn.CloseNow()

	q := domain.ScrapedQuestion{Text: question, QuestionID: opts.questionID}
	if err := writeEnvelope(ctx, conn, domain.Wrap(q)); err != nil {
		return err
	}

	frames := make(chan frame)
	stop := make(chan struct{})
	defer close(stop)
	go readFrames(ctx, conn, frames, stop)

	r := &renderer{w: out}
	var last domain.Output
	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()

loop:
	for {
		select {
		case f := <-frames:
			if f.err != nil {
				r.Finish()
				if ctx.Err() != nil {
					fmt.Fprintln(out, dimStyle.Render("cancelled"))
					return nil
				}
				return f.err
			}

			switch p := f.env.Payload.(type) {
			case domain.Output:
				r.Update(p.Text)
				last = p
				timer.Reset(opts.idle)
			case domain.ErrorMessage:
				r.Finish()
				fmt.Fprintln(out, errorStyle.Render(plainText(p.Message)))
				return errors.New("relay reported an error")
			}
		case <-timer.C:
			if last.Text == "" {
				return fmt.Errorf("no answer within %s", opts.timeout)
			}
			break loop
		}
	}
	r.Finish()
	fmt.Fprintln(out, dimStyle.Render("conversation "+last.ConversationID))

	if rating != "" {
		fb := domain.Feedback{
			MessageID:      last.MessageID,
			ConversationID: last.ConversationID,
			QuestionID:     opts.questionID,
			Rating:         rating,
		}
		if err := writeEnvelope(ctx, conn, domain.Wrap(fb)); err != nil {
			return err
		}
		fmt.Fprintln(out, successStyle.Render("Feedback sent: "+string(rating)))
	}

	return conn.Close(websocket.StatusNormalClosure, "done")
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Key(), err)
	}
	return nil
}

type frame struct {
	env domain.Envelope
	err error
}

// readFrames forwards decoded envelopes until a read fails or stop closes.
// A failed read is forwarded and ends the loop.
func readFrames(ctx context.Context, conn *websocket.Conn, frames chan<- frame, stop <-chan struct{}) {
	for {
		var f frame
		_, data, err := conn.Read(ctx)
		if err != nil {
			f.err = fmt.Errorf("read channel: %w", err)
		} else if f.env, err = domain.DecodeEnvelope(data, domain.Outbound); err != nil {
			f.err = fmt.Errorf("decode envelope: %w", err)
		}

		select {
		case frames <- f:
		case <-stop:
			return
		}
		if f.err != nil {
			return
		}
	}
}
