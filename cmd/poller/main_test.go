package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"smsrelay/internal/poll"
)

func TestExitCode_Mapping(t *testing.T) {
	cases := []struct {
		name    string
		outcome poll.Outcome
		want    int
	}{
		{"no new messages", poll.Outcome{Kind: poll.KindNoNewMessages}, exitOK},
		{"new messages delivered", poll.Outcome{Kind: poll.KindNewMessages}, exitOK},
		{"transient error", poll.Outcome{Kind: poll.KindTransientError, Err: errors.New("timeout")}, exitError},
		{"permanent error", poll.Outcome{Kind: poll.KindPermanentError, Err: errors.New("auth")}, exitError},
		{"cancelled", poll.Outcome{Kind: poll.KindCancelled}, exitCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.outcome))
		})
	}
}
