package link

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kwv/ndtscan/ndt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOdometry() ndt.Odometry {
	return ndt.Odometry{
		Pose:      ndt.Pose{X: 1.5, Y: -0.5, Theta: 0.1},
		Delta:     ndt.Pose{X: 0.05, Y: 0, Theta: 0.01},
		Converged: true,
		Stamp:     time.UnixMilli(1700000000000),
	}
}

func TestPublisherTopics(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	cfg := DefaultConfig().MQTT
	cfg.PublishPrefix = "robot/ndt"
	pub := NewPublisher(mock, cfg, quietLogger())

	odom := testOdometry()
	tf := odom.Pose.Transform()
	require.NoError(t, pub.Publish(odom, ndt.MatchResult{Score: -12.5, Matched: 9}, tf))

	msgs := mock.Published()
	require.Len(t, msgs, 3)
	assert.Equal(t, "robot/ndt/pose", msgs[0].Topic)
	assert.Equal(t, "robot/ndt/odometry", msgs[1].Topic)
	assert.Equal(t, "robot/ndt/transform", msgs[2].Topic)
	for _, m := range msgs {
		assert.True(t, m.Retain)
		assert.Equal(t, byte(0), m.QoS)
	}

	var pose PoseMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &pose))
	assert.Equal(t, NewPoseMessage(odom), pose)

	var om OdometryMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &om))
	assert.Equal(t, 9, om.Matched)
	assert.Equal(t, odom.Delta, om.Delta)

	var tm TransformMessage
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &tm))
	assert.Equal(t, "map", tm.Parent)
	assert.Equal(t, "laser", tm.Child)
	assert.Equal(t, tf, tm.Matrix)

	last, ok := pub.LastPose()
	require.True(t, ok)
	assert.Equal(t, pose, last)
}

func TestPublisherNotConnected(t *testing.T) {
	pub := NewPublisher(nil, MQTTConfig{}, nil)
	assert.ErrorIs(t, pub.Publish(testOdometry(), ndt.MatchResult{}, ndt.Identity()), ErrNotConnected)
	assert.Equal(t, "ndtscan/pose", pub.Topic("pose"))

	mock := NewMockClient()
	pub = NewPublisher(mock, MQTTConfig{}, quietLogger())
	assert.ErrorIs(t, pub.Publish(testOdometry(), ndt.MatchResult{}, ndt.Identity()), ErrNotConnected)
	_, ok := pub.LastPose()
	assert.False(t, ok)
}

func TestPublisherPublishError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetPublishError(errors.New("broker full"))
	pub := NewPublisher(mock, DefaultConfig().MQTT, quietLogger())

	err := pub.Publish(testOdometry(), ndt.MatchResult{}, ndt.Identity())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ndtscan/pose")
	assert.Contains(t, err.Error(), "broker full")
}

func TestPublisherQoSAndRetain(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	pub := NewPublisher(mock, DefaultConfig().MQTT, quietLogger())

	pub.SetQoS(1)
	pub.SetQoS(7) // ignored
	pub.SetRetain(false)
	require.NoError(t, pub.Publish(testOdometry(), ndt.MatchResult{}, ndt.Identity()))

	for _, m := range mock.Published() {
		assert.Equal(t, byte(1), m.QoS)
		assert.False(t, m.Retain)
	}
}
