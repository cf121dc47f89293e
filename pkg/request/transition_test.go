package request

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepends(t *testing.T) {
	cases := []struct {
		name string
		a, b TransitionKind
		want bool
	}{
		{"send-send same mailbox", TransitionKind{Kind: KindCommSend, Mbox: 1}, TransitionKind{Kind: KindCommSend, Mbox: 1}, true},
		{"send-send different mailbox", TransitionKind{Kind: KindCommSend, Mbox: 1}, TransitionKind{Kind: KindCommSend, Mbox: 2}, false},
		{"recv-recv same mailbox", TransitionKind{Kind: KindCommRecv, Mbox: 1}, TransitionKind{Kind: KindCommRecv, Mbox: 1}, true},
		{"send-recv independent", TransitionKind{Kind: KindCommSend, Mbox: 1}, TransitionKind{Kind: KindCommRecv, Mbox: 1}, false},
		{"test-test independent", TransitionKind{Kind: KindCommTest}, TransitionKind{Kind: KindCommTest}, false},
		{"wait-wait timeout forces dependent", TransitionKind{Kind: KindCommWait, Timeout: true}, TransitionKind{Kind: KindCommWait}, true},
		{
			"wait-wait disjoint buffers independent",
			TransitionKind{Kind: KindCommWait, SBuf: 0x1000, RBuf: 0x2000, Size: 8},
			TransitionKind{Kind: KindCommWait, SBuf: 0x3000, RBuf: 0x4000, Size: 8},
			false,
		},
		{
			"wait-wait overlapping send buffers dependent",
			TransitionKind{Kind: KindCommWait, SBuf: 0x1000, RBuf: 0x2000, Size: 8},
			TransitionKind{Kind: KindCommWait, SBuf: 0x1004, RBuf: 0x5000, Size: 8},
			true,
		},
		{
			"send-wait matching endpoint and buffer dependent",
			TransitionKind{Kind: KindCommSend, Mbox: 5, SBuf: 0x1000, Sender: 1},
			TransitionKind{Kind: KindCommWait, Mbox: 5, SBuf: 0x1000, Sender: 1, Receiver: 2},
			true,
		},
		{
			"send-wait same mailbox but disjoint buffer independent",
			TransitionKind{Kind: KindCommSend, Mbox: 5, SBuf: 0x1000, Sender: 1},
			TransitionKind{Kind: KindCommWait, Mbox: 5, SBuf: 0x2000, Sender: 1, Receiver: 2},
			false,
		},
		{
			"send-wait sender not a wait endpoint independent",
			TransitionKind{Kind: KindCommSend, Mbox: 5, SBuf: 0x1000, Sender: 3},
			TransitionKind{Kind: KindCommWait, Mbox: 5, SBuf: 0x1000, Sender: 1, Receiver: 2},
			false,
		},
		{
			"send-wait different mailbox independent",
			TransitionKind{Kind: KindCommSend, Mbox: 6, SBuf: 0x1000, Sender: 1},
			TransitionKind{Kind: KindCommWait, Mbox: 5, SBuf: 0x1000, Sender: 1, Receiver: 2},
			false,
		},
		{
			"recv-wait matching endpoint and buffer dependent",
			TransitionKind{Kind: KindCommRecv, Mbox: 5, RBuf: 0x2000, Receiver: 2},
			TransitionKind{Kind: KindCommWait, Mbox: 5, RBuf: 0x2000, Sender: 1, Receiver: 2},
			true,
		},
		{
			"recv-wait disjoint recv buffer independent",
			TransitionKind{Kind: KindCommRecv, Mbox: 5, RBuf: 0x3000, Receiver: 2},
			TransitionKind{Kind: KindCommWait, Mbox: 5, RBuf: 0x2000, Sender: 1, Receiver: 2},
			false,
		},
		{
			"send-wait timeout always dependent despite buffer mismatch",
			TransitionKind{Kind: KindCommSend, Mbox: 5, SBuf: 0x1000, Sender: 1},
			TransitionKind{Kind: KindCommWait, Mbox: 5, SBuf: 0x9000, Sender: 1, Receiver: 2, Timeout: true},
			true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Depends(tc.a, tc.b), "a,b order")
			require.Equal(t, tc.want, Depends(tc.b, tc.a), "depends must be symmetric regardless of argument order")
		})
	}
}

func TestNextRandomEnumeratesRange(t *testing.T) {
	pending := PendingSimcall{Kind: TransitionKind{Kind: KindRandom, Min: 1, Max: 3}}
	var got []int64
	var tc int32
	for {
		tr, next, done := Next(1, pending, tc)
		got = append(got, tr.Kind.Min)
		tc = next
		if done {
			break
		}
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestNextWaitAnyIterates(t *testing.T) {
	subs := []TransitionKind{{Kind: KindCommWait, Mbox: 1}, {Kind: KindCommWait, Mbox: 2}}
	pending := PendingSimcall{Kind: TransitionKind{Kind: KindWaitAny, Sub: subs}}

	tr0, tc1, done0 := Next(1, pending, 0)
	require.False(t, done0)
	require.Equal(t, Mailbox(1), tr0.Kind.Sub[0].Mbox)

	tr1, _, done1 := Next(1, pending, tc1)
	require.True(t, done1)
	require.Equal(t, Mailbox(2), tr1.Kind.Sub[0].Mbox)
}
