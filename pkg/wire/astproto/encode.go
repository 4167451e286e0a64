package astproto

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MarshalRequest serializes a client envelope.
func MarshalRequest(req *TranslateRequest) []byte {
	var b []byte
	if req.RequestMeta != nil {
		b = appendMessage(b, 1, appendRequestMeta(nil, req.RequestMeta))
	}
	if req.Event != EventNone {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(req.Event))
	}
	if req.User != nil {
		b = appendMessage(b, 3, appendUser(nil, req.User))
	}
	if req.SourceAudio != nil {
		b = appendMessage(b, 4, appendAudio(nil, req.SourceAudio))
	}
	if req.TargetAudio != nil {
		b = appendMessage(b, 5, appendAudio(nil, req.TargetAudio))
	}
	if req.Request != nil {
		b = appendMessage(b, 6, appendReqParams(nil, req.Request))
	}
	if req.Denoise {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func appendRequestMeta(b []byte, m *RequestMeta) []byte {
	b = appendString(b, 1, m.Endpoint)
	b = appendString(b, 2, m.AppKey)
	b = appendString(b, 3, m.AppID)
	b = appendString(b, 4, m.ResourceID)
	b = appendString(b, 5, m.ConnectionID)
	b = appendString(b, 6, m.SessionID)
	b = appendInt32(b, 7, m.Sequence)
	return b
}

func appendUser(b []byte, u *User) []byte {
	b = appendString(b, 1, u.UID)
	b = appendString(b, 2, u.DID)
	b = appendString(b, 3, u.Platform)
	b = appendString(b, 4, u.SDKVersion)
	b = appendString(b, 5, u.AppVersion)
	return b
}

func appendAudio(b []byte, a *Audio) []byte {
	b = appendString(b, 1, a.Data)
	b = appendString(b, 2, a.URL)
	b = appendString(b, 3, a.URLType)
	b = appendString(b, 4, a.Format)
	b = appendString(b, 5, a.Codec)
	b = appendString(b, 6, a.Language)
	b = appendInt32(b, 7, a.Rate)
	b = appendInt32(b, 8, a.Bits)
	b = appendInt32(b, 9, a.Channel)
	if len(a.BinaryData) > 0 {
		b = protowire.AppendTag(b, 14, protowire.BytesType)
		b = protowire.AppendBytes(b, a.BinaryData)
	}
	return b
}

func appendReqParams(b []byte, p *ReqParams) []byte {
	b = appendString(b, 1, p.Mode)
	b = appendString(b, 2, p.SourceLanguage)
	b = appendString(b, 3, p.TargetLanguage)
	b = appendString(b, 4, p.SpeakerID)
	return b
}

// MarshalResponse serializes a server envelope. Client code never sends
// these; tests and protocol fixtures do.
func MarshalResponse(resp *TranslateResponse) []byte {
	var b []byte
	if resp.ResponseMeta != nil {
		b = appendMessage(b, 1, appendResponseMeta(nil, resp.ResponseMeta))
	}
	if resp.Event != EventNone {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(resp.Event))
	}
	if len(resp.Data) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Data)
	}
	b = appendString(b, 4, resp.Text)
	b = appendInt32(b, 5, resp.StartTime)
	b = appendInt32(b, 6, resp.EndTime)
	if resp.SpeakerChanged {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendInt32(b, 8, resp.MutedDurationMs)
	return b
}

func appendResponseMeta(b []byte, m *ResponseMeta) []byte {
	b = appendString(b, 1, m.SessionID)
	b = appendInt32(b, 2, m.Sequence)
	b = appendInt32(b, 3, m.StatusCode)
	b = appendString(b, 4, m.Message)
	if m.Billing != nil {
		b = appendMessage(b, 5, appendBilling(nil, m.Billing))
	}
	return b
}

func appendBilling(b []byte, bl *Billing) []byte {
	for _, item := range bl.Items {
		var ib []byte
		ib = appendString(ib, 1, item.Unit)
		if item.Quantity != 0 {
			ib = protowire.AppendTag(ib, 2, protowire.Fixed64Type)
			ib = protowire.AppendFixed64(ib, math.Float64bits(item.Quantity))
		}
		b = appendMessage(b, 1, ib)
	}
	if bl.DurationMsec != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bl.DurationMsec))
	}
	if bl.WordCount != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bl.WordCount))
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(uint32(v)))
}
