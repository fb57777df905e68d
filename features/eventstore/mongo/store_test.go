package mongo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	eventstoremongo "goa.design/autonomy-kernel/features/eventstore/mongo"
	"goa.design/autonomy-kernel/kernel/eventstore"
	"goa.design/autonomy-kernel/kernel/eventstore/eventstoretest"
)

var (
	testClient      *mongodriver.Client
	testContainer   testcontainers.Container
	skipMongoTests  bool
	dbCounter       int
)

// setupMongo mirrors the teacher's registry/store/mongo test harness: start
// a disposable mongo:7 container, skip the suite entirely if Docker isn't
// available rather than failing the build.
func setupMongo(t *testing.T) {
	t.Helper()
	if testClient != nil || skipMongoTests {
		return
	}
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		t.Logf("docker not available, skipping mongo eventstore tests: %v", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
		return
	}
}

func newMongoStore(t *testing.T) eventstore.Store {
	t.Helper()
	setupMongo(t)
	if skipMongoTests {
		t.Skip("docker not available, skipping mongo eventstore test")
	}
	dbCounter++
	dbName := fmt.Sprintf("kernel_eventstore_test_%d", dbCounter)
	store, err := eventstoremongo.New(context.Background(), eventstoremongo.Options{
		Client:   testClient,
		Database: dbName,
	})
	if err != nil {
		t.Fatalf("construct mongo eventstore: %v", err)
	}
	t.Cleanup(func() {
		_ = testClient.Database(dbName).Drop(context.Background())
	})
	return store
}

func TestMongoStore_Conformance(t *testing.T) {
	eventstoretest.Run(t, func() eventstore.Store {
		return newMongoStore(t)
	})
}
