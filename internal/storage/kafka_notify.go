package storage

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"

	"github.com/como-project/como/internal/comometrics"
	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/pkg/cbreaker"
	"github.com/como-project/como/pkg/comoerr"
)

// kafkaNotifier publishes one message per sealed segment so external
// consumers can follow storage commits without polling the filesystem.
// Wiring and SASL handling follow the teacher's sarama producer setup.
type kafkaNotifier struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *logrus.Entry
	breaker  *cbreaker.Breaker
}

func newKafkaNotifier(cfg config.KafkaConfig, logger *logrus.Entry) (*kafkaNotifier, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Return.Successes = false
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	if cfg.SASL.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASL.Username
		saramaCfg.Net.SASL.Password = cfg.SASL.Password
		saramaCfg.Net.SASL.Handshake = true

		switch cfg.SASL.Mechanism {
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512ScramGenerator}
			}
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256ScramGenerator}
			}
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		}
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, comoerr.Wrap(comoerr.CodeStoreFailed, "storage", "newKafkaNotifier", err, comoerr.SeverityFatal)
	}

	n := &kafkaNotifier{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
		breaker:  cbreaker.New(cbreaker.Config{MaxFailures: 5}),
	}
	go n.drainErrors()
	return n, nil
}

func (n *kafkaNotifier) drainErrors() {
	for perr := range n.producer.Errors() {
		n.logger.WithError(perr.Err).Warn("storage: kafka notify failed")
		comometrics.IPCErrorsTotal.WithLabelValues("storage.kafka", "transient").Inc()
	}
}

// NotifySealed best-effort-publishes a seal event; failures are
// counted and swallowed since a lost notification never corrupts the
// stream itself, only delays a downstream consumer's view of it.
func (n *kafkaNotifier) NotifySealed(stream string, segmentIndex int, path string) {
	_ = n.breaker.Execute(func() error {
		msg := &sarama.ProducerMessage{
			Topic: n.topic,
			Key:   sarama.StringEncoder(stream),
			Value: sarama.StringEncoder(fmt.Sprintf(`{"stream":%q,"segment":%d,"path":%q}`, stream, segmentIndex, path)),
		}
		select {
		case n.producer.Input() <- msg:
			return nil
		default:
			return fmt.Errorf("kafka producer input full")
		}
	})
}

func (n *kafkaNotifier) Close() {
	n.producer.AsyncClose()
}

// xdgSCRAMClient adapts github.com/xdg-go/scram to sarama.SCRAMClient,
// the same bridge the teacher's Kafka sink uses.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *xdgSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *xdgSCRAMClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *xdgSCRAMClient) Done() bool {
	return c.ClientConversation.Done()
}

func sha256ScramGenerator() hash.Hash { return sha256.New() }
func sha512ScramGenerator() hash.Hash { return sha512.New() }
