package transport

import (
	"errors"
	"fmt"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OK},
		{"blocked", tele.ErrBlockedByUser, Blocked},
		{"deactivated", tele.ErrUserIsDeactivated, Blocked},
		{"chat gone", tele.ErrChatNotFound, Blocked},
		{"never started", tele.ErrNotStartedByUser, Blocked},
		{"wrapped blocked", fmt.Errorf("send: %w", tele.ErrBlockedByUser), Blocked},
		{"other 403", &tele.Error{Code: 403, Description: "forbidden"}, Blocked},
		{"rate limited", &tele.Error{Code: 429, Description: "Too Many Requests: retry after 5"}, Transient},
		{"server error", &tele.Error{Code: 500}, Transient},
		{"network", errors.New("dial tcp: timeout"), Transient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%s: Classify() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if OK.String() != "ok" || Blocked.String() != "blocked" || Transient.String() != "transient" {
		t.Fatal("outcome labels drifted")
	}
}
