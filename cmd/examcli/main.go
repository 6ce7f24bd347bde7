// Command examcli is a line-driven exam-taking client: it joins an exam,
// opens the live stream, and maps stdin commands to protocol messages.
// Useful for smoke-testing a backend deployment without a browser.
//
// Commands:
//
//	ans <question_id> <answer>   autosave an answer
//	clear <question_id>          clear an answer
//	cheat <type> <severity>      report a cheat event
//	submit                       finish and grade the exam
//	state                        print the locally known answer sheet
//	quit                         disconnect and exit
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/model"
	"github.com/stemsi/exstem-client/restclient"
	"github.com/stemsi/exstem-client/session"
	"github.com/stemsi/exstem-client/stream"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.Token == "" || cfg.ExamID == "" {
		log.Fatal().Msg("EXSTEM_TOKEN and EXSTEM_EXAM_ID are required")
	}
	examID, err := uuid.Parse(cfg.ExamID)
	if err != nil {
		log.Fatal().Err(err).Msg("EXSTEM_EXAM_ID is not a valid UUID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rest := restclient.New(cfg.APIBaseURL+"/api/v1", cfg.Token, log)

	sess, err := rest.JoinExam(ctx, examID, cfg.EntryToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Join failed")
	}
	if sess.Status == model.SessionStatusCompleted {
		log.Info().Msg("Session already completed")
		if sess.FinalScore != nil {
			fmt.Printf("final score: %.2f\n", *sess.FinalScore)
		}
		return
	}

	paper, err := rest.GetExamPaper(ctx, examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Fetch paper failed")
	}
	log.Info().
		Str("title", paper.Title).
		Int("questions", len(paper.Questions)).
		Int("duration_minutes", paper.Duration).
		Msg("Paper loaded")

	sc := stream.New(stream.Config{
		BaseURL:              cfg.APIBaseURL,
		Token:                cfg.Token,
		PingInterval:         cfg.PingInterval,
		BackoffBase:          cfg.BackoffBase,
		BackoffCap:           cfg.BackoffCap,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               log,
	})

	syncer := session.New(examID, rest, sc, log)

	h := &cliHandler{log: log, syncer: syncer, done: make(chan struct{})}
	sc.Connect(examID, h)

	go readCommands(log, sc, syncer, h.done)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-h.done:
	}

	sc.Disconnect()
}

// cliHandler adapts stream events to the synchronizer and the terminal.
type cliHandler struct {
	log    zerolog.Logger
	syncer *session.Synchronizer
	done   chan struct{}
	once   sync.Once
}

func (h *cliHandler) OnOpen() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		state, err := h.syncer.Resync(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("Resync failed")
			return
		}
		fmt.Printf("connected, %.0fs remaining, %d answers saved\n",
			state.RemainingTime, len(state.AutosavedAnswers))
	}()
}

func (h *cliHandler) OnClose() {
	h.syncer.HandleClose()
}

func (h *cliHandler) OnError(err error) {
	if errors.Is(err, stream.ErrReconnectExhausted) || errors.Is(err, stream.ErrNoCredential) {
		h.log.Error().Err(err).Msg("Connection lost for good")
		h.finish()
		return
	}
	h.log.Warn().Err(err).Msg("Stream error")
}

func (h *cliHandler) OnSaved(status string) {
	h.syncer.AckSaved()
	h.log.Info().Str("status", status).Msg("Answer saved")
}

func (h *cliHandler) OnGraded(status string, score float64) {
	if h.syncer.ApplyGraded(status, score) {
		fmt.Printf("graded: %s, score %.2f\n", status, score)
	}
	h.finish()
}

func (h *cliHandler) finish() {
	h.once.Do(func() { close(h.done) })
}

func readCommands(log zerolog.Logger, sc *stream.Client, syncer *session.Synchronizer, done chan struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-done:
			return
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "ans":
			if len(fields) < 3 {
				fmt.Println("usage: ans <question_id> <answer>")
				continue
			}
			answer := strings.Join(fields[2:], " ")
			if err := syncer.SaveAnswer(fields[1], &answer); err != nil {
				log.Warn().Err(err).Msg("Autosave failed")
			}
		case "clear":
			if len(fields) != 2 {
				fmt.Println("usage: clear <question_id>")
				continue
			}
			if err := syncer.SaveAnswer(fields[1], nil); err != nil {
				log.Warn().Err(err).Msg("Clear failed")
			}
		case "cheat":
			if len(fields) != 3 {
				fmt.Println("usage: cheat <type> <severity>")
				continue
			}
			ev := model.CheatEvent{
				Type:     model.CheatType(fields[1]),
				Severity: model.Severity(strings.ToUpper(fields[2])),
			}
			if err := sc.SendCheat(ev); err != nil {
				log.Warn().Err(err).Msg("Cheat report failed")
			}
		case "state":
			sheet, _ := json.MarshalIndent(syncer.Answers(), "", "  ")
			fmt.Println(string(sheet))
		case "submit":
			if err := sc.SendSubmit(); err != nil {
				log.Warn().Err(err).Msg("Submit failed")
			}
		case "quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
