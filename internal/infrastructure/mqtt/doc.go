// Package mqtt is the LIFX bridge's broker session, built on paho.
//
// Topics follow graylogic/{category}/{protocol}/{address}. For the lifx
// protocol the bridge publishes retained state on graylogic/state/lifx/<serial>,
// takes commands on graylogic/command/lifx/<serial>, acknowledges them on
// graylogic/ack/lifx/<serial> and keeps its health on graylogic/health/lifx.
// The session itself is announced on graylogic/system/status, with a will
// that marks it offline if the process dies.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics("lifx")
//	err = client.Subscribe(topics.Commands(), 1, handleCommand)
package mqtt
