package push

import (
	"errors"
	"testing"

	"checkout_core/internal/pkg/config"

	"github.com/aliyun/alibaba-cloud-sdk-go/services/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	requests []*push.PushRequest
	err      error
}

func (f *fakeClient) Push(request *push.PushRequest) (*push.PushResponse, error) {
	f.requests = append(f.requests, request)
	return push.CreatePushResponse(), f.err
}

func TestPushToAccount(t *testing.T) {
	client := &fakeClient{}
	s := &AliyunPushService{client: client, appKey: 12345}

	err := s.PushToAccount("user-1", "订单已确认", "您的订单 20240101-ABCDEFGH 已确认", map[string]string{"orderId": "o1"})
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "ACCOUNT", req.Target)
	assert.Equal(t, "user-1", req.TargetValue)
	assert.Equal(t, "NOTICE", req.PushType)
	assert.JSONEq(t, `{"orderId":"o1"}`, req.AndroidExtParameters)
}

func TestPushToAccountError(t *testing.T) {
	s := &AliyunPushService{client: &fakeClient{err: errors.New("throttled")}, appKey: 1}
	assert.Error(t, s.PushToAccount("user-1", "t", "b", nil))
}

func TestNewAliyunPushServiceRequiresConfig(t *testing.T) {
	_, err := NewAliyunPushService(config.PushConfig{})
	assert.ErrorIs(t, err, errPushConfigMissing)
}
