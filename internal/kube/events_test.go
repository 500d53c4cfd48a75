package kube

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/CermakM/osiris-build-observer/internal/event"
)

func kubeEvent(name, kind, reason string) *corev1.Event {
	return &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ns1", UID: "evt-1"},
		InvolvedObject: corev1.ObjectReference{
			Kind:      kind,
			Namespace: "ns1",
			Name:      "build-1",
			UID:       "build-uid",
		},
		Reason:         reason,
		Message:        "Build ns1/build-1 is now running",
		FirstTimestamp: metav1.NewTime(time.Unix(100, 0)),
		LastTimestamp:  metav1.NewTime(time.Unix(150, 0)),
		Count:          1,
	}
}

func newFakeSource(t *testing.T) (*EventSource, *watch.FakeWatcher) {
	t.Helper()
	watcher := watch.NewFakeWithChanSize(10, false)
	client := fake.NewSimpleClientset()
	client.PrependWatchReactor("events", k8stesting.DefaultWatchReactor(watcher, nil))
	return NewEventSource(client, "ns1", noopLogger()), watcher
}

func TestEventSourceYieldsAddedAndModified(t *testing.T) {
	source, watcher := newFakeSource(t)
	watcher.Add(kubeEvent("e1", event.KindBuild, event.ReasonBuildStarted))
	watcher.Delete(kubeEvent("e0", event.KindBuild, event.ReasonBuildStarted))
	watcher.Modify(kubeEvent("e2", event.KindBuild, event.ReasonBuildCompleted))

	ctx := context.Background()
	first, err := source.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", first.Name)
	assert.Equal(t, event.KindBuild, first.Kind())
	assert.Equal(t, "/api/v1/namespaces/ns1/events/e1", first.SelfLink)

	second, err := source.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e2", second.Name)
	assert.Equal(t, event.ReasonBuildCompleted, second.Reason)
}

func TestEventSourceClosedStream(t *testing.T) {
	source, watcher := newFakeSource(t)
	watcher.Stop()

	_, err := source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, err = source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventSourceWatchError(t *testing.T) {
	source, watcher := newFakeSource(t)
	watcher.Error(&metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusGone,
		Reason:  metav1.StatusReasonExpired,
		Message: "too old resource version",
	})

	_, err := source.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "too old resource version")
}

func TestEventSourceContextCancelled(t *testing.T) {
	source, _ := newFakeSource(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromEventTimestampFallbacks(t *testing.T) {
	e := kubeEvent("e1", event.KindBuild, event.ReasonBuildStarted)
	e.FirstTimestamp = metav1.Time{}
	e.LastTimestamp = metav1.Time{}
	e.EventTime = metav1.NewMicroTime(time.Unix(200, 0))
	e.SelfLink = "/apis/build.openshift.io/v1/namespaces/ns1/builds/build-1"

	got := FromEvent(e)
	assert.Equal(t, time.Unix(200, 0).Unix(), got.FirstTimestamp.Unix())
	assert.Equal(t, got.FirstTimestamp, got.LastTimestamp)
	assert.Equal(t, e.SelfLink, got.SelfLink)
	assert.Equal(t, "build-uid", got.InvolvedObject.UID)
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
