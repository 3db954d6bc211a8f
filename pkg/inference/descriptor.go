package inference

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	packageName = "inference"
	serviceName = "GRPCInferenceService"

	// ModelInferMethod is the full method name of the unary inference call.
	ModelInferMethod = "/" + packageName + "." + serviceName + "/ModelInfer"

	ModelInferRequestName  protoreflect.FullName = packageName + ".ModelInferRequest"
	ModelInferResponseName protoreflect.FullName = packageName + ".ModelInferResponse"
)

var (
	file                   protoreflect.FileDescriptor
	modelInferRequestDesc  protoreflect.MessageDescriptor
	modelInferResponseDesc protoreflect.MessageDescriptor
	inferParameterDesc     protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("inference: invalid descriptor: %v", err))
	}
	file = fd
	modelInferRequestDesc = fd.Messages().ByName("ModelInferRequest")
	modelInferResponseDesc = fd.Messages().ByName("ModelInferResponse")
	inferParameterDesc = fd.Messages().ByName("InferParameter")
}

// File returns the descriptor of the open inference protocol gRPC API,
// restricted to the ModelInfer call.
func File() protoreflect.FileDescriptor {
	return file
}

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	typeUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	labelOptional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	labelRepeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

func scalar(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  labelOptional.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typ)
	f.Label = labelRepeated.Enum()
	return f
}

func message(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typeMessage)
	f.TypeName = proto.String(typeName)
	return f
}

func repeatedMessage(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := message(name, number, typeName)
	f.Label = labelRepeated.Enum()
	return f
}

func oneofMember(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, typ)
	f.OneofIndex = proto.Int32(0)
	return f
}

// parametersField declares `map<string, InferParameter> parameters = number`
// on parent, whose full name is parentName.
func parametersField(parent *descriptorpb.DescriptorProto, parentName string, number int32) {
	parent.NestedType = append(parent.NestedType, &descriptorpb.DescriptorProto{
		Name: proto.String("ParametersEntry"),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("key", 1, typeString),
			message("value", 2, ".inference.InferParameter"),
		},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	})
	parent.Field = append(parent.Field, repeatedMessage("parameters", number, parentName+".ParametersEntry"))
}

// tensor declares a tensor message carrying name, datatype, shape,
// parameters and contents, as used for inputs and outputs.
func tensor(name, fullName string) *descriptorpb.DescriptorProto {
	t := &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("name", 1, typeString),
			scalar("datatype", 2, typeString),
			repeated("shape", 3, typeInt64),
		},
	}
	parametersField(t, fullName, 4)
	t.Field = append(t.Field, message("contents", 5, ".inference.InferTensorContents"))
	return t
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	inferParameter := &descriptorpb.DescriptorProto{
		Name: proto.String("InferParameter"),
		Field: []*descriptorpb.FieldDescriptorProto{
			oneofMember("bool_param", 1, typeBool),
			oneofMember("int64_param", 2, typeInt64),
			oneofMember("string_param", 3, typeString),
			oneofMember("double_param", 4, typeDouble),
			oneofMember("uint64_param", 5, typeUint64),
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("parameter_choice")}},
	}

	tensorContents := &descriptorpb.DescriptorProto{
		Name: proto.String("InferTensorContents"),
		Field: []*descriptorpb.FieldDescriptorProto{
			repeated("bool_contents", 1, typeBool),
			repeated("int_contents", 2, typeInt32),
			repeated("int64_contents", 3, typeInt64),
			repeated("uint_contents", 4, typeUint32),
			repeated("uint64_contents", 5, typeUint64),
			repeated("fp32_contents", 6, typeFloat),
			repeated("fp64_contents", 7, typeDouble),
			repeated("bytes_contents", 8, typeBytes),
		},
	}

	requestedOutput := &descriptorpb.DescriptorProto{
		Name:  proto.String("InferRequestedOutputTensor"),
		Field: []*descriptorpb.FieldDescriptorProto{scalar("name", 1, typeString)},
	}
	parametersField(requestedOutput, ".inference.ModelInferRequest.InferRequestedOutputTensor", 2)

	request := &descriptorpb.DescriptorProto{
		Name: proto.String("ModelInferRequest"),
		NestedType: []*descriptorpb.DescriptorProto{
			tensor("InferInputTensor", ".inference.ModelInferRequest.InferInputTensor"),
			requestedOutput,
		},
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("model_name", 1, typeString),
			scalar("model_version", 2, typeString),
			scalar("id", 3, typeString),
		},
	}
	parametersField(request, ".inference.ModelInferRequest", 4)
	request.Field = append(request.Field,
		repeatedMessage("inputs", 5, ".inference.ModelInferRequest.InferInputTensor"),
		repeatedMessage("outputs", 6, ".inference.ModelInferRequest.InferRequestedOutputTensor"),
		repeated("raw_input_contents", 7, typeBytes),
	)

	response := &descriptorpb.DescriptorProto{
		Name: proto.String("ModelInferResponse"),
		NestedType: []*descriptorpb.DescriptorProto{
			tensor("InferOutputTensor", ".inference.ModelInferResponse.InferOutputTensor"),
		},
		Field: []*descriptorpb.FieldDescriptorProto{
			scalar("model_name", 1, typeString),
			scalar("model_version", 2, typeString),
			scalar("id", 3, typeString),
		},
	}
	parametersField(response, ".inference.ModelInferResponse", 4)
	response.Field = append(response.Field,
		repeatedMessage("outputs", 5, ".inference.ModelInferResponse.InferOutputTensor"),
		repeated("raw_output_contents", 6, typeBytes),
	)

	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String("grpc_predict_v2.proto"),
		Package:     proto.String(packageName),
		Syntax:      proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{inferParameter, tensorContents, request, response},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(serviceName),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("ModelInfer"),
				InputType:  proto.String(".inference.ModelInferRequest"),
				OutputType: proto.String(".inference.ModelInferResponse"),
			}},
		}},
	}
}
