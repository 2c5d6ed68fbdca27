package main

import (
	"testing"
	"time"

	"barrier.org/internal/gatectl"
	"barrier.org/internal/gates"
)

func TestWriteTimeout(t *testing.T) {
	set := gates.Set{{ID: 1, Name: "Gate", Retries: 1}, {ID: 2, Name: "Rear", Retries: 3}}

	if got := writeTimeout(nil, set); got != baseWriteTimeout {
		t.Fatalf("dry run write timeout = %v", got)
	}

	act := gatectl.New("http://controller", gatectl.WithAttemptTimeout(10*time.Second), gatectl.WithDelay(100*time.Millisecond))
	want := act.SequenceTimeout(3) + baseWriteTimeout
	if got := writeTimeout(act, set); got != want {
		t.Fatalf("write timeout = %v, want %v", got, want)
	}
	if got := writeTimeout(act, set); got <= 3*10*time.Second {
		t.Fatalf("write timeout %v does not cover three hung attempts", got)
	}
}
