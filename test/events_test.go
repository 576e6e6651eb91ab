package test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
)

type EventsTestSuite struct {
	IntegrationTestSuite
}

func TestEventsTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, &EventsTestSuite{})
}

type publishedEvent struct {
	EventID    string          `json:"event_id"`
	Event      string          `json:"event"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
}

// TestOutboxPublishing drives mutations through the REST api and asserts
// that the matching events come out of kafka, in outbox order.
func (s *EventsTestSuite) TestOutboxPublishing() {
	cl := s.client.WithIdentity("auth0|events")

	_, err := cl.RawPost("/adduser", map[string]interface{}{
		"userid":         "auth0|events",
		"email":          "events@example.com",
		"email_verified": true,
	}, nil)
	s.Require().NoError(err)

	car := struct {
		CarID int `json:"car_id"`
	}{}
	_, err = cl.RawPost("/addcar", map[string]interface{}{
		"name":  "Wired",
		"year":  2020,
		"make":  "Toyota",
		"model": "Corolla",
		"miles": 1000,
	}, &car)
	s.Require().NoError(err)
	s.Require().NotZero(car.CarID)

	_, err = cl.RawPost("/addmaintenance?car_id="+strconv.Itoa(car.CarID), map[string]interface{}{
		"type":    "Fuel",
		"miles":   1100,
		"cost":    40,
		"gallons": 10,
		"notes":   "",
	}, nil)
	s.Require().NoError(err)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       "carlog.events",
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	expected := []string{"user.created", "car.created", "maintenance.appended"}
	received := []publishedEvent{}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	for len(received) < len(expected) {
		message, err := reader.ReadMessage(ctx)
		s.Require().NoError(err, "timed out waiting for outbox events")
		event := publishedEvent{}
		s.Require().NoError(json.Unmarshal(message.Value, &event))
		received = append(received, event)
	}

	for i, event := range received {
		s.Equal(expected[i], event.Event)
		s.NotEmpty(event.EventID)
	}
	s.Equal("user", received[0].Resource)
	s.Equal("auth0|events", received[0].ResourceID)
	s.Equal("car", received[1].Resource)
	s.Equal(strconv.Itoa(car.CarID), received[1].ResourceID)

	// the car payload travels with the event
	carPayload := struct {
		Name string `json:"name"`
	}{}
	s.Require().NoError(json.Unmarshal(received[1].Payload, &carPayload))
	s.Equal("Wired", carPayload.Name)
}
