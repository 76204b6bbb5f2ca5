package comment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/livepilot/platform"
)

const controlPanelPayload = `{
  "code": 0,
  "data": {
    "list": [
      {"msg_id": "m1", "type": 1, "user": {"nickname": "小王", "id": "u1"}, "content": "多少钱", "create_time": 1700000000000},
      {"msg_id": "m2", "type": 2, "user": {"nickname": "小李", "id": "u2"}, "create_time": 1700000001},
      {"msg_id": "m3", "type": 9, "user": {"nickname": "小张"}, "create_time": "2024-01-02T03:04:05Z"},
      "garbage"
    ]
  }
}`

func controlPanelDecoder() *PathDecoder {
	return &PathDecoder{
		Source:    platform.SourceControlPanel,
		Items:     "data.list",
		ID:        "msg_id",
		Kind:      "type",
		Sender:    "user.nickname",
		Content:   "content",
		Timestamp: "create_time",
		Extra:     map[string]string{"user_id": "user.id"},
		Kinds: map[string]platform.MessageKind{
			"1": platform.KindComment,
			"2": platform.KindEnterRoom,
		},
	}
}

func TestPathDecoder(t *testing.T) {
	msgs, err := controlPanelDecoder().Decode([]byte(controlPanelPayload))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, platform.LiveMessage{
		Kind:       platform.KindComment,
		ID:         "m1",
		SenderName: "小王",
		Content:    "多少钱",
		Timestamp:  time.UnixMilli(1700000000000),
		Source:     platform.SourceControlPanel,
		Extra:      map[string]string{"user_id": "u1"},
	}, msgs[0])

	assert.Equal(t, platform.KindEnterRoom, msgs[1].Kind)
	assert.Equal(t, time.Unix(1700000001, 0), msgs[1].Timestamp)
	assert.Empty(t, msgs[1].Content)

	assert.Equal(t, platform.KindUnknown, msgs[2].Kind)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), msgs[2].Timestamp.UTC())
	assert.Empty(t, msgs[2].Extra)
}

func TestPathDecoderShapes(t *testing.T) {
	tests := []struct {
		name    string
		decoder *PathDecoder
		body    string
		want    int
		wantErr error
	}{
		{name: "非法 JSON", decoder: controlPanelDecoder(), body: `{"data":`, wantErr: ErrMalformedPayload},
		{name: "没有消息列表", decoder: controlPanelDecoder(), body: `{"code":0}`, want: 0},
		{name: "空列表", decoder: controlPanelDecoder(), body: `{"data":{"list":[]}}`, want: 0},
		{name: "单个对象", decoder: &PathDecoder{Items: "data", ID: "id", Content: "text"}, body: `{"data":{"id":"1","text":"hi"}}`, want: 1},
		{name: "根数组", decoder: &PathDecoder{ID: "id", Content: "text"}, body: `[{"id":"1","text":"a"},{"id":"2","text":"b"}]`, want: 2},
		{name: "空条目跳过", decoder: &PathDecoder{ID: "id"}, body: `[{},{"id":"1"}]`, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := tt.decoder.Decode([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, msgs, tt.want)
		})
	}
}

func TestPathDecoderDefaultKind(t *testing.T) {
	d := &PathDecoder{ID: "id"}
	msgs, err := d.Decode([]byte(`[{"id":"1"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, platform.KindComment, msgs[0].Kind)

	d.DefaultKind = platform.KindGift
	msgs, err = d.Decode([]byte(`[{"id":"1"}]`))
	require.NoError(t, err)
	assert.Equal(t, platform.KindGift, msgs[0].Kind)

	d = &PathDecoder{ID: "id", Kind: "kind"}
	msgs, err = d.Decode([]byte(`[{"id":"1","kind":"follow"}]`))
	require.NoError(t, err)
	assert.Equal(t, platform.KindFollow, msgs[0].Kind)
}
