//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
)

// extractGate mirrors the extraction question with a custom negative answer.
func extractGate() *Gate {
	return &Gate{
		Question:   "Extract gameserver-v1.tar.gz or exit?",
		Negative:   AnswerExit,
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Abort,
		Unattended: deploy.Proceed,
	}
}

// TestPromptDecider_RepeatsUntilValid ignores invalid replies and is case-insensitive.
func TestPromptDecider_RepeatsUntilValid(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	decider := NewPromptDecider(strings.NewReader("maybe\n\n  EXIT \n"), &out)

	decision, err := decider.Decide(context.Background(), extractGate())
	require.NoError(t, err)
	require.Equal(t, deploy.Abort, decision)
	require.Equal(t, 3, strings.Count(out.String(), "(y/exit): "))
}

// TestPromptDecider_LastLineWithoutNewline accepts a final answer not followed by a newline.
func TestPromptDecider_LastLineWithoutNewline(t *testing.T) {
	t.Parallel()

	decider := NewPromptDecider(strings.NewReader("y"), new(bytes.Buffer))

	decision, err := decider.Decide(context.Background(), extractGate())
	require.NoError(t, err)
	require.Equal(t, deploy.Proceed, decision)
}

// TestPromptDecider_EOF fails when input ends without a valid answer.
func TestPromptDecider_EOF(t *testing.T) {
	t.Parallel()

	decider := NewPromptDecider(strings.NewReader("what\n"), new(bytes.Buffer))

	_, err := decider.Decide(context.Background(), extractGate())
	require.ErrorIs(t, err, ErrNoAnswer)
}

// TestPromptDecider_Canceled stops asking once the context is done.
func TestPromptDecider_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decider := NewPromptDecider(strings.NewReader("y\n"), new(bytes.Buffer))

	_, err := decider.Decide(ctx, extractGate())
	require.ErrorIs(t, err, context.Canceled)
}

// TestUnattendedDecider returns the unattended decision without reading input.
func TestUnattendedDecider(t *testing.T) {
	t.Parallel()

	gate := &Gate{Question: "Skip database dump", OnPositive: deploy.Skip, OnNegative: deploy.Proceed, Unattended: deploy.Proceed}

	decision, err := UnattendedDecider{}.Decide(context.Background(), gate)
	require.NoError(t, err)
	require.Equal(t, deploy.Proceed, decision)

	positive, negative := gate.Answers()
	require.Equal(t, AnswerYes, positive)
	require.Equal(t, AnswerNo, negative)
}
