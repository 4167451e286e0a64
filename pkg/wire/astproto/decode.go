package astproto

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// UnmarshalResponse decodes a server envelope. Unknown fields and unknown
// event codes are skipped so protocol additions never break the client.
// Byte payloads are copied out of the input buffer before retention.
func UnmarshalResponse(data []byte) (*TranslateResponse, error) {
	resp := &TranslateResponse{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed envelope tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed responseMeta")
			}
			meta, err := unmarshalResponseMeta(body)
			if err != nil {
				return nil, err
			}
			resp.ResponseMeta = meta
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed event")
			}
			resp.Event = Event(int32(v))
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed data payload")
			}
			resp.Data = append([]byte(nil), body...)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed text payload")
			}
			resp.Text = string(body)
			b = b[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed startTime")
			}
			resp.StartTime = int32(v)
			b = b[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed endTime")
			}
			resp.EndTime = int32(v)
			b = b[n:]
		case num == 7 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed spkChg")
			}
			resp.SpeakerChanged = v != 0
			b = b[n:]
		case num == 8 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed mutedDurationMs")
			}
			resp.MutedDurationMs = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

func unmarshalResponseMeta(data []byte) (*ResponseMeta, error) {
	meta := &ResponseMeta{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed responseMeta tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed sessionId")
			}
			meta.SessionID = string(body)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed sequence")
			}
			meta.Sequence = int32(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed statusCode")
			}
			meta.StatusCode = int32(v)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed message")
			}
			meta.Message = string(body)
			b = b[n:]
		case num == 5 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing")
			}
			billing, err := unmarshalBilling(body)
			if err != nil {
				return nil, err
			}
			meta.Billing = billing
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed responseMeta field %d", num)
			}
			b = b[n:]
		}
	}
	return meta, nil
}

func unmarshalBilling(data []byte) (*Billing, error) {
	billing := &Billing{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing item")
			}
			item, err := unmarshalBillingItem(body)
			if err != nil {
				return nil, err
			}
			billing.Items = append(billing.Items, item)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed durationMsec")
			}
			billing.DurationMsec = int64(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed wordCount")
			}
			billing.WordCount = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing field %d", num)
			}
			b = b[n:]
		}
	}
	return billing, nil
}

func unmarshalBillingItem(data []byte) (BillingItem, error) {
	var item BillingItem
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return item, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing item tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return item, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing unit")
			}
			item.Unit = string(body)
			b = b[n:]
		case num == 2 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return item, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing quantity")
			}
			item.Quantity = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return item, errorsx.New(errorsx.ReasonCodecDecode, "malformed billing item field %d", num)
			}
			b = b[n:]
		}
	}
	return item, nil
}
