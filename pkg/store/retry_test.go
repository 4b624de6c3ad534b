package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("exec: %w", io.EOF), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"pq connection exception", &pq.Error{Code: "08006"}, true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"pq syntax error", &pq.Error{Code: "42601"}, false},
		{"plain logical error", errors.New("no such column"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}
