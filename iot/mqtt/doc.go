// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package mqtt provides the embedded IoT broker feeding the ingestion core

Devices authenticate with TLS client certificates. The certificate common
name carries the tenant ID; a connected client may only subscribe to topics
below its own tenant root, so one tenant can never observe another tenant's
traffic on the shared bus.

Every message a device publishes is handed to the installed message handler
(the ingestion router) from the OnMsgArrived hook. The broker itself does
not interpret payloads. Outbound messages, registration responses, delivery
acknowledgments and operator commands, are published with quality level 1
through PublishMessageQ1.
*/
package mqtt
