package gatectl

import (
	"encoding/xml"
	"fmt"
)

const (
	xmlDeclaration = `<?xml version = "1.0" encoding = "UTF-8"?>`
	methodName     = "ControlAccess"
)

type methodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	Params     params   `xml:"params"`
	MethodName string   `xml:"methodName"`
}

type params struct {
	Param param `xml:"param"`
}

type param struct {
	Value structValue `xml:"value"`
}

type structValue struct {
	Struct members `xml:"struct"`
}

type members struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value scalar `xml:"value"`
}

type scalar struct {
	Int    *int    `xml:"int,omitempty"`
	String *string `xml:"string,omitempty"`
}

func intMember(name string, v int) member {
	return member{Name: name, Value: scalar{Int: &v}}
}

func stringMember(name, v string) member {
	return member{Name: name, Value: scalar{String: &v}}
}

// controlAccess lists the call parameters in the order the controller expects.
// Everything except the device address is fixed by the controller's protocol.
func controlAccess(controllerID int) methodCall {
	return methodCall{
		Params: params{Param: param{Value: structValue{Struct: members{Members: []member{
			intMember("ComPort", 2),
			intMember("PKUAddress", 0),
			intMember("DeviceAddress", controllerID),
			intMember("AggregateAddress", 1),
			intMember("Command", 0),
			stringMember("MethodNameForAnswer", "Result"),
			stringMember("IPSERVER", "127.0.0.1"),
			intMember("PORTSERVER", 8080),
		}}}}},
		MethodName: methodName,
	}
}

// Envelope renders the ControlAccess XML-RPC document for one controller.
// The output is tab indented and newline terminated; controllers compare it
// byte for byte, so its shape must not change.
func Envelope(controllerID int) ([]byte, error) {
	body, err := xml.MarshalIndent(controlAccess(controllerID), "", "\t")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	out := make([]byte, 0, len(xmlDeclaration)+len(body)+2)
	out = append(out, xmlDeclaration...)
	out = append(out, '\n')
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}
