package writer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaMirror 把写入写入器的记录同步镜像到Kafka
// 镜像是尽力而为的：发送失败只记日志，不影响文件落盘
type KafkaMirror struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaMirror 创建Kafka镜像
func NewKafkaMirror(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaMirror, error) {
	logger.Infof("初始化Kafka镜像，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	return &KafkaMirror{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// Publish 按数据类型发送一条记录
func (k *KafkaMirror) Publish(kind string, payload interface{}) error {
	topic, exists := k.topics[kind]
	if !exists {
		topic = "excavator_" + kind
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("已镜像到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// Close 关闭Kafka连接
func (k *KafkaMirror) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
