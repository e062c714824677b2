package link

// GATT service and characteristic UUIDs the pipeline touches. Adapters
// translate these to their stack's native representation.
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	ServiceUUIDBattery   = "0000180f-0000-1000-8000-00805f9b34fb"
	CharUUIDBatteryLevel = "00002a19-0000-1000-8000-00805f9b34fb"
)
