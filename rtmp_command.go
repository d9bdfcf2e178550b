// NetConnection/NetStream command layer: encode/decode of the AMF0-encoded
// command payloads carried inside RTMP_TYPE_INVOKE/RTMP_TYPE_DATA messages.

package main

import "strconv"

// RTMPCommand represents one NetConnection/NetStream command: a name, an
// optional transaction id, an optional command object, and any trailing
// positional arguments, keyed by role ("streamName", "pause", ...).
type RTMPCommand struct {
	cmd       string
	arguments map[string]*AMF0Value
}

// RTMPData represents one onMetaData-style Data Message: a tag name plus a
// single trailing payload value, keyed as "dataObj".
type RTMPData struct {
	tag       string
	arguments map[string]*AMF0Value
}

// commandArgNames maps known command names to the role of each positional
// argument following the command object, in order. Commands not listed here
// get their trailing arguments stored under "arg0", "arg1", ...
var commandArgNames = map[string][]string{
	"publish":       {"streamName", "type"},
	"play":          {"streamName", "start", "duration", "reset"},
	"play2":         {"params"},
	"pause":         {"pause", "ms"},
	"deleteStream":  {"streamId"},
	"receiveAudio":  {"bool"},
	"receiveVideo":  {"bool"},
	"releaseStream": {"streamName"},
	"FCPublish":     {"streamName"},
	"FCUnpublish":   {"streamName"},
	"FCSubscribe":   {"streamName"},
}

// decodeRTMPCommand parses a command name, an optional transaction id, an
// optional command object and any further positional arguments out of an
// AMF0-encoded invoke payload.
func decodeRTMPCommand(payload []byte) RTMPCommand {
	stream := AMFDecodingStream{buffer: payload, pos: 0}

	nameVal := stream.ReadOne()
	cmd := RTMPCommand{cmd: nameVal.GetString(), arguments: make(map[string]*AMF0Value)}

	if !stream.IsEnded() {
		transId := stream.ReadOne()
		cmd.arguments["transId"] = &transId
	}

	if !stream.IsEnded() {
		cmdObj := stream.ReadOne()
		cmd.arguments["cmdObj"] = &cmdObj
	}

	argNames := commandArgNames[cmd.cmd]

	for i := 0; !stream.IsEnded(); i++ {
		v := stream.ReadOne()
		if i < len(argNames) {
			cmd.arguments[argNames[i]] = &v
		} else {
			cmd.arguments["arg"+strconv.Itoa(i)] = &v
		}
	}

	return cmd
}

// decodeRTMPData parses a Data Message payload: a tag name followed by zero
// or more values, the last of which is the data payload proper (the
// "@setDataFrame" envelope carries an intermediate nested tag name that is
// not otherwise retained).
func decodeRTMPData(payload []byte) RTMPData {
	stream := AMFDecodingStream{buffer: payload, pos: 0}

	tagVal := stream.ReadOne()
	data := RTMPData{tag: tagVal.GetString(), arguments: make(map[string]*AMF0Value)}

	var last *AMF0Value
	for !stream.IsEnded() {
		v := stream.ReadOne()
		last = &v
	}

	if last != nil {
		data.arguments["dataObj"] = last
	}

	return data
}

func undefinedAMF0Value() *AMF0Value {
	v := createAMF0Value(AMF0_TYPE_UNDEFINED)
	return &v
}

func (c *RTMPCommand) GetArg(name string) *AMF0Value {
	v, ok := c.arguments[name]
	if !ok {
		return undefinedAMF0Value()
	}
	return v
}

func (c *RTMPCommand) ToString() string {
	s := "'" + c.cmd + "' {\n"
	for k, v := range c.arguments {
		s += "    " + k + " = " + v.ToString("    ") + "\n"
	}
	s += "}"
	return s
}

// Encode serializes the command as: name, transId (if set), cmdObj (if
// set), info (if set) — the shape used by every outgoing _result/onStatus
// reply this server sends.
func (c *RTMPCommand) Encode() []byte {
	r := amf0EncodeOne(*createAMF0String(c.cmd))

	if v, ok := c.arguments["transId"]; ok {
		r = append(r, amf0EncodeOne(*v)...)
	}

	if v, ok := c.arguments["cmdObj"]; ok {
		r = append(r, amf0EncodeOne(*v)...)
	}

	if v, ok := c.arguments["info"]; ok {
		r = append(r, amf0EncodeOne(*v)...)
	}

	return r
}

func (d *RTMPData) GetArg(name string) *AMF0Value {
	v, ok := d.arguments[name]
	if !ok {
		return undefinedAMF0Value()
	}
	return v
}

func (d *RTMPData) ToString() string {
	s := "'" + d.tag + "' {\n"
	for k, v := range d.arguments {
		s += "    " + k + " = " + v.ToString("    ") + "\n"
	}
	s += "}"
	return s
}

// Encode serializes the data message as the tag name followed by whatever
// trailing arguments this tag is known to carry.
func (d *RTMPData) Encode() []byte {
	r := amf0EncodeOne(*createAMF0String(d.tag))

	switch d.tag {
	case "onMetaData":
		if v, ok := d.arguments["dataObj"]; ok {
			r = append(r, amf0EncodeOne(*v)...)
		}
	case "|RtmpSampleAccess":
		if v, ok := d.arguments["bool1"]; ok {
			r = append(r, amf0EncodeOne(*v)...)
		}
		if v, ok := d.arguments["bool2"]; ok {
			r = append(r, amf0EncodeOne(*v)...)
		}
	default:
		if v, ok := d.arguments["dataObj"]; ok {
			r = append(r, amf0EncodeOne(*v)...)
		}
	}

	return r
}
