// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package ingest provides the multi-tenant message ingestion core

Devices publish telemetry, alarms and images onto a shared MQTT bus. Every
topic is rooted in the tenant the device belongs to:

	/{tenant_id}/devices                              self-registration
	/{tenant_id}/devices/register-response            registration outcome
	/{tenant_id}/devices/{mac}/telemetry              single or batched readings
	/{tenant_id}/devices/{mac}/alarms                 alarm conditions
	/{tenant_id}/devices/{mac}/images                 base64 encoded images
	/{tenant_id}/devices/{mac}/commands               acks and operator commands

The router consumes the single inbound stream, classifies each message by
topic and hands it to a bounded pool of workers, so one slow persistence
call never delays ingestion for other devices. Valid payloads are persisted
through the Store interface, answered with an acknowledgment when the device
supplied a messageId, and fanned out to the tenant's live viewers.

Devices are identified by their physical MAC address. Ownership of a MAC is
exclusive: at most one (tenant, device) row is active at any time. A device
re-registering under a new tenant transfers ownership; historical records
written under the previous tenant remain with that tenant.

This package contains the shared record types and the narrow interfaces
towards the bus, the persistent store and the live fan-out. The actual
pipeline lives in the sub-packages codec, device, store, blobs, ack, fanout
and router.
*/
package ingest
