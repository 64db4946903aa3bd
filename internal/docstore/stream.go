package docstore

import (
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StreamPath returns the document path a stream record's keys point at.
func StreamPath(keys map[string]events.DynamoDBAttributeValue) (string, error) {
	pk, ok := keys[attrPK]
	if !ok || pk.DataType() != events.DataTypeString {
		return "", fmt.Errorf("docstore: stream record missing %s", attrPK)
	}
	sk, ok := keys[attrSK]
	if !ok || sk.DataType() != events.DataTypeString {
		return "", fmt.Errorf("docstore: stream record missing %s", attrSK)
	}
	return Join(pk.String(), sk.String()), nil
}

// DecodeStreamImage converts a stream image into document fields. An empty
// image (the NewImage of a REMOVE) decodes to nil.
func DecodeStreamImage(image map[string]events.DynamoDBAttributeValue) (map[string]any, error) {
	if len(image) == 0 {
		return nil, nil
	}
	item := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := streamValue(v)
		if err != nil {
			return nil, fmt.Errorf("docstore: stream attribute %s: %w", k, err)
		}
		item[k] = av
	}
	return DecodeItem(item)
}

func streamValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, item := range list {
			av, err := streamValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for k, item := range m {
			av, err := streamValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = av
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	default:
		return nil, fmt.Errorf("unsupported data type %v", v.DataType())
	}
}
