package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	nsqclient "github.com/cuongbtq/contentgen-be/shared/nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// assertCrossInstance publishes on busA and expects delivery on busB only to the target user
func assertCrossInstance(t *testing.T, busA, busB *Bus) {
	t.Helper()
	ctx := context.Background()

	target := NewChannelSink(4)
	bystander := NewChannelSink(4)
	busB.Subscribe("alice", target)
	busB.Subscribe("bob", bystander)

	require.NoError(t, busA.PublishToUser(ctx, "ghost", EntityChangeEvent{EntityID: "nobody-listens"}))

	event := JobCompletionEvent{JobID: "job-7", JobType: domain.JobTypeProcessURL, Status: domain.JobStatusCompleted, EntityID: "doc-7"}
	require.NoError(t, busA.PublishToUser(ctx, "alice", event))

	select {
	case frame := <-target.C():
		typ, data := decodeEnvelope(t, frame)
		assert.Equal(t, TypeJobCompletion, typ)
		assert.Equal(t, "doc-7", data["entityId"])
	case <-time.After(10 * time.Second):
		t.Fatal("event did not cross instances")
	}
	assert.Empty(t, bystander.C())
}

func TestRedisTransport_CrossInstance(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379")

	clientA := redis.NewClient(&redis.Options{Addr: addr})
	clientB := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		clientA.Close()
		clientB.Close()
	})

	busA := NewBus(NewRedisTransport(clientA, testLogger()), "", testLogger())
	busB := NewBus(NewRedisTransport(clientB, testLogger()), "", testLogger())
	require.NoError(t, busA.Start())
	require.NoError(t, busB.Start())
	t.Cleanup(func() {
		busA.Close()
		busB.Close()
	})

	assertCrossInstance(t, busA, busB)
}

func TestNSQTransport_CrossInstance(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}, "4150")

	cfg := &nsqclient.Config{NSQDAddress: addr}

	newTransport := func(instanceID string) *NSQTransport {
		producer, err := nsqclient.NewProducer(cfg, testLogger())
		require.NoError(t, err)
		return NewNSQTransport(producer, nsqclient.ConsumerFactory(cfg, testLogger()), instanceID, testLogger())
	}

	busA := NewBus(newTransport("instance-a"), "", testLogger())
	busB := NewBus(newTransport("instance-b"), "", testLogger())

	require.NoError(t, busA.Start())
	require.NoError(t, busB.Start())
	t.Cleanup(func() {
		busA.Close()
		busB.Close()
	})

	assertCrossInstance(t, busA, busB)
}

func TestEphemeralChannel(t *testing.T) {
	assert.Equal(t, "events-abc#ephemeral", EphemeralChannel("abc"))
}
