package metric

// Tag constants
const (
	TagEnv                   = "env"
	TagService               = "service"
	TagPath                  = "path"
	TagMethod                = "method"
	TagModel                 = "model"
	TagOperation             = "operation"
	TagHttpStatusCode        = "http_status_code"
	TagGrpcStatusCode        = "grpc_status_code"
	TagExternalService       = "external_service"
	TagCommunicationProtocol = "communication_protocol"
	TagCBName                = "name"
	TagCBFromState           = "from"
	TagCBToState             = "to"

	TagValueCommunicationProtocolHttp = "http"
	TagValueCommunicationProtocolGrpc = "grpc"
)

type Tag struct {
	Name  string
	Value string
}

func NewTag(name, value string) Tag {
	return Tag{
		Name:  name,
		Value: value,
	}
}

// BuildTag builds a tag from the given name and value
func BuildTag(tags ...Tag) []string {
	allTags := make([]string, 0, len(tags))
	for _, tag := range tags {
		allTags = append(allTags, TagAsString(tag.Name, tag.Value))
	}
	return allTags
}

func TagAsString(name string, value string) string {
	return name + ":" + value
}
