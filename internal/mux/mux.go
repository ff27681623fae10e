// Package mux fans values from event sources out to subscribers.
package mux

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Info(format string, args ...interface{})
}

type Sink[T any] interface {
	Submit(T) error
	Close()
}

type CancelFunc func()

type funcSink[T any] struct {
	f func(T)
}

func (s *funcSink[T]) Submit(v T) error {
	s.f(v)
	return nil
}

func (s *funcSink[T]) Close() {}

// SinkFunc calls f for every value. f must not block.
func SinkFunc[T any](f func(T)) Sink[T] {
	return &funcSink[T]{f}
}

type registration[T any] struct {
	sink Sink[T]
	done chan struct{}
}

// Mux delivers every submitted value to every subscribed sink, in order, from
// a single goroutine.
type Mux[T any] struct {
	input      chan T
	register   chan registration[T]
	unregister chan registration[T]
	stopped    chan struct{}
	outputs    map[Sink[T]]bool

	submitTimeout time.Duration
	inBufSize     int
	logger        Logger
}

type Option[T any] func(*Mux[T])

func Buffered[T any](size int) Option[T] {
	return func(m *Mux[T]) {
		m.inBufSize = size
	}
}

func WithLogger[T any](logger Logger) Option[T] {
	return func(m *Mux[T]) {
		m.logger = logger
	}
}

func WithSubmitTimeout[T any](d time.Duration) Option[T] {
	return func(m *Mux[T]) {
		m.submitTimeout = d
	}
}

func Make[T any](opts ...Option[T]) *Mux[T] {
	m := &Mux[T]{
		submitTimeout: 1 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.input = make(chan T, m.inBufSize)
	m.register = make(chan registration[T])
	m.unregister = make(chan registration[T])
	m.stopped = make(chan struct{})
	m.outputs = make(map[Sink[T]]bool)

	go m.run()

	return m
}

func (m *Mux[T]) run() {
	defer close(m.stopped)
	defer func() {
		for sub := range m.outputs {
			delete(m.outputs, sub)
			sub.Close()
		}
	}()

	for {
		select {
		case v := <-m.input:
			for out := range m.outputs {
				if err := out.Submit(v); err != nil {
					m.error("error submitting value %v: %v", v, err)
				}
			}
		case r, ok := <-m.register:
			if !ok {
				return
			}
			m.outputs[r.sink] = true
			close(r.done)
		case r := <-m.unregister:
			if m.outputs[r.sink] {
				delete(m.outputs, r.sink)
				r.sink.Close()
			}
			close(r.done)
		}
	}
}

func (m *Mux[T]) error(format string, args ...any) error {
	if m.logger != nil {
		m.logger.Info(format, args...)
	}
	return fmt.Errorf(format, args...)
}

// Close stops delivery and closes every subscribed sink.
func (m *Mux[T]) Close() {
	close(m.register)
	<-m.stopped
}

// Submit hands v to the fan-out goroutine, giving up after the submit
// timeout or when ctx is done.
func (m *Mux[T]) Submit(ctx context.Context, v T) error {
	timer := time.NewTimer(m.submitTimeout)
	defer timer.Stop()
	select {
	case m.input <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return m.error("mux closed, dropping %v", v)
	case <-timer.C:
		return m.error("timed out submitting value %v after %s", v, m.submitTimeout)
	}
}

func (m *Mux[T]) Subscribe(sink Sink[T]) CancelFunc {
	r := registration[T]{sink: sink, done: make(chan struct{})}
	m.register <- r
	<-r.done

	return func() {
		r := registration[T]{sink: sink, done: make(chan struct{})}
		select {
		case m.unregister <- r:
			<-r.done
		case <-m.stopped:
		}
	}
}
