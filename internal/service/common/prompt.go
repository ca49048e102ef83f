//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// Default answers offered by gates.
const (
	AnswerYes  = "y"
	AnswerNo   = "n"
	AnswerExit = "exit"
)

// ErrNoAnswer is returned when input ends before a valid answer was given.
var ErrNoAnswer = errors.New("no answer from operator")

// Gate is an operator question standing in front of a stage, together with
// the decision each answer maps to.
type Gate struct {
	// Question is shown to the operator, without the answer hint.
	Question string
	// Positive is the answer mapped to OnPositive (default "y").
	Positive string
	// Negative is the answer mapped to OnNegative (default "n").
	Negative string
	// OnPositive is the decision for the positive answer.
	OnPositive deploy.Decision
	// OnNegative is the decision for the negative answer.
	OnNegative deploy.Decision
	// Unattended is the decision taken when nobody is asked.
	Unattended deploy.Decision
}

// Answers returns the positive and negative answers with defaults applied.
func (g *Gate) Answers() (positive, negative string) {
	positive, negative = g.Positive, g.Negative
	if positive == "" {
		positive = AnswerYes
	}

	if negative == "" {
		negative = AnswerNo
	}

	return positive, negative
}

// Decider turns a gate into a decision.
type Decider interface {
	Decide(ctx context.Context, gate *Gate) (deploy.Decision, error)
}

// PromptDecider asks the operator on a line-oriented terminal.
type PromptDecider struct {
	// in reads operator replies.
	in *bufio.Reader
	// out receives the questions.
	out io.Writer
}

// NewPromptDecider creates a decider reading answers from in and writing questions to out.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Decide repeats the question until one of the two answers is given.
// Answers are compared case-insensitively after trimming.
func (p *PromptDecider) Decide(ctx context.Context, gate *Gate) (deploy.Decision, error) {
	positive, negative := gate.Answers()

	for {
		if err := ctx.Err(); err != nil {
			return deploy.Abort, err
		}

		if _, err := fmt.Fprintf(p.out, "%s (%s/%s): ", gate.Question, positive, negative); err != nil {
			return deploy.Abort, fmt.Errorf("write question: %w", err)
		}

		line, readErr := p.in.ReadString('\n')
		reply := strings.ToLower(strings.TrimSpace(line))

		logger.DebugKV(ctx, "Operator reply", "question", gate.Question, "reply", reply)

		switch reply {
		case positive:
			return gate.OnPositive, nil
		case negative:
			return gate.OnNegative, nil
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return deploy.Abort, fmt.Errorf("%s: %w", gate.Question, ErrNoAnswer)
			}

			return deploy.Abort, fmt.Errorf("read answer: %w", readErr)
		}
	}
}

// UnattendedDecider answers every gate with its unattended decision.
type UnattendedDecider struct{}

// Decide returns gate.Unattended and logs it.
func (UnattendedDecider) Decide(ctx context.Context, gate *Gate) (deploy.Decision, error) {
	logger.InfoKV(ctx, "Answering gate unattended", "question", gate.Question, "decision", gate.Unattended.String())

	return gate.Unattended, nil
}
