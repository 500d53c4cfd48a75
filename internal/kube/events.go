package kube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/CermakM/osiris-build-observer/internal/event"
)

// EventSource streams the events of one namespace. It opens a single watch and
// never reconnects: once the watch ends, Next keeps returning io.EOF.
type EventSource struct {
	client    kubernetes.Interface
	namespace string
	logger    *slog.Logger

	mu      sync.Mutex
	watcher watch.Interface
	done    bool
}

// NewEventSource returns a source watching events in namespace.
func NewEventSource(client kubernetes.Interface, namespace string, logger *slog.Logger) *EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSource{
		client:    client,
		namespace: namespace,
		logger:    logger.With(slog.String("component", "event-source"), slog.String("namespace", namespace)),
	}
}

// Next blocks until the next added or modified event arrives. It returns
// io.EOF when the watch closes, and the API status when the server reports a
// watch error.
func (s *EventSource) Next(ctx context.Context) (event.ClusterEvent, error) {
	watcher, err := s.open(ctx)
	if err != nil {
		return event.ClusterEvent{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return event.ClusterEvent{}, ctx.Err()
		case ev, ok := <-watcher.ResultChan():
			if !ok {
				s.finish()
				return event.ClusterEvent{}, io.EOF
			}
			switch ev.Type {
			case watch.Added, watch.Modified:
				kubeEvent, ok := ev.Object.(*corev1.Event)
				if !ok {
					s.logger.Debug("skipping unexpected watch object", slog.String("type", fmt.Sprintf("%T", ev.Object)))
					continue
				}
				return FromEvent(kubeEvent), nil
			case watch.Error:
				s.finish()
				return event.ClusterEvent{}, fmt.Errorf("watch events in %s: %w", s.namespace, apierrors.FromObject(ev.Object))
			default:
				continue
			}
		}
	}
}

// Stop releases the underlying watch.
func (s *EventSource) Stop() {
	s.finish()
}

func (s *EventSource) open(ctx context.Context) (watch.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, io.EOF
	}
	if s.watcher != nil {
		return s.watcher, nil
	}
	watcher, err := s.client.CoreV1().Events(s.namespace).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		s.done = true
		return nil, fmt.Errorf("watch events in %s: %w", s.namespace, err)
	}
	s.logger.Info("watching for events")
	s.watcher = watcher
	return watcher, nil
}

func (s *EventSource) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil && !s.done {
		s.watcher.Stop()
	}
	s.done = true
}

// FromEvent copies the fields the observer needs out of a core event.
func FromEvent(e *corev1.Event) event.ClusterEvent {
	first := e.FirstTimestamp.Time
	if first.IsZero() {
		first = e.EventTime.Time
	}
	if first.IsZero() {
		first = e.CreationTimestamp.Time
	}
	last := e.LastTimestamp.Time
	if last.IsZero() && e.Series != nil {
		last = e.Series.LastObservedTime.Time
	}
	if last.IsZero() {
		last = first
	}

	return event.ClusterEvent{
		Name:      e.Name,
		Namespace: e.Namespace,
		UID:       string(e.UID),
		Reason:    e.Reason,
		Message:   e.Message,
		SelfLink:  selfLink(e),
		InvolvedObject: event.ObjectReference{
			Kind:            e.InvolvedObject.Kind,
			Namespace:       e.InvolvedObject.Namespace,
			Name:            e.InvolvedObject.Name,
			UID:             string(e.InvolvedObject.UID),
			APIVersion:      e.InvolvedObject.APIVersion,
			ResourceVersion: e.InvolvedObject.ResourceVersion,
		},
		FirstTimestamp: first,
		LastTimestamp:  last,
		Count:          e.Count,
	}
}

// selfLink is no longer populated by the API server; rebuild it from the
// event coordinates when missing.
func selfLink(e *corev1.Event) string {
	if e.SelfLink != "" {
		return e.SelfLink
	}
	if e.Name == "" {
		return ""
	}
	return fmt.Sprintf("/api/v1/namespaces/%s/events/%s", e.Namespace, e.Name)
}
