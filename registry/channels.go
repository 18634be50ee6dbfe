package registry

import (
	"fmt"

	"github.com/next-trace/scg-service-admin/catalog"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Channel types a service can be exposed through.
const (
	ChannelPlainHTTP = "plain_http"
	ChannelSOAP      = "soap"
	ChannelAMQP      = "amqp"
	ChannelJMSQueue  = "jms_queue"
	ChannelZMQ       = "zmq"
)

// plain_http and soap share http_soap and differ only by soap_version presence.
var channelQueries = map[string]catalog.ChannelQuery{
	ChannelPlainHTTP: {Table: catalog.TableHTTPSOAP, SOAPVersion: catalog.PresenceNull},
	ChannelSOAP:      {Table: catalog.TableHTTPSOAP, SOAPVersion: catalog.PresenceSet},
	ChannelAMQP:      {Table: catalog.TableAMQP},
	ChannelJMSQueue:  {Table: catalog.TableWMQ},
	"jms-wmq":        {Table: catalog.TableWMQ},
	ChannelZMQ:       {Table: catalog.TableZMQ},
}

// ChannelQueryFor maps a channel type to its catalog query.
// Unknown types fail with ErrBadRequest.
func ChannelQueryFor(channelType string) (catalog.ChannelQuery, error) {
	q, ok := channelQueries[channelType]
	if !ok {
		return catalog.ChannelQuery{}, fmt.Errorf("channel type %q: %w", channelType, berr.ErrBadRequest)
	}

	return q, nil
}
