// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"net/http"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/roost/core/csql"
	"github.com/relabs-tech/roost/core/logger"
	"github.com/relabs-tech/roost/ingest/api"
	"github.com/relabs-tech/roost/ingest/blobs"
	"github.com/relabs-tech/roost/ingest/fanout"
	"github.com/relabs-tech/roost/ingest/router"
	"github.com/relabs-tech/roost/ingest/store"
	"github.com/relabs-tech/roost/iot/mqtt"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres       string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	PostgresSchema string `env:"POSTGRES_SCHEMA,default=roost" description:"the database schema"`

	CACertFile string `env:"CA_CERT_FILE,required" description:"certificate of the certificate authority"`
	CertFile   string `env:"CERT_FILE,required" description:"the broker's X.509 certificate"`
	KeyFile    string `env:"KEY_FILE,required" description:"the broker's X.509 private key"`
	MQTTAddr   string `env:"MQTT_ADDR,default=:8883" description:"the broker's TLS listen address"`

	HTTPAddr string `env:"HTTP_ADDR,default=:3001" description:"listen address for viewers and operators"`

	BlobDriver   string `env:"BLOB_DRIVER,default=Local" description:"blob storage driver, Local or AWSS3"`
	BlobBasePath string `env:"BLOB_BASE_PATH,default=/var/lib/roost/blobs" description:"base path for the local blob driver"`
	S3Region     string `env:"S3_REGION,default=" description:"AWS region for the S3 blob driver"`
	S3Bucket     string `env:"S3_BUCKET,default=" description:"bucket for the S3 blob driver"`
	S3AccessID   string `env:"S3_ACCESS_ID,default=" description:"access key ID for the S3 blob driver"`
	S3AccessKey  string `env:"S3_ACCESS_KEY,default=" description:"secret access key for the S3 blob driver"`
	S3KeyPrefix  string `env:"S3_KEY_PREFIX,default=roost/" description:"key prefix for the S3 blob driver"`

	IngestConcurrency int `env:"INGEST_CONCURRENCY,default=8" description:"number of ingestion workers"`
	IngestQueueSize   int `env:"INGEST_QUEUE_SIZE,default=256" description:"capacity of the ingestion queue"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresSchema)
	defer db.Close()

	persistence := store.New(db)

	driver, err := blobs.NewDriver(blobs.Configuration{
		DriverType:         blobs.DriverType(service.BlobDriver),
		LocalConfiguration: &blobs.LocalConfiguration{BasePath: service.BlobBasePath},
		S3Configuration: &blobs.S3Configuration{
			AWSRegion:     service.S3Region,
			AWSBucketName: service.S3Bucket,
			AccessID:      service.S3AccessID,
			AccessKey:     service.S3AccessKey,
			KeyPrefix:     service.S3KeyPrefix,
		},
	})
	if err != nil {
		panic(err)
	}

	broker := mqtt.NewBroker(&mqtt.Builder{
		CACertFile: service.CACertFile,
		CertFile:   service.CertFile,
		KeyFile:    service.KeyFile,
		ListenAddr: service.MQTTAddr,
	})

	liveFanout := fanout.New()

	ingestRouter := router.New(&router.Builder{
		Store:       persistence,
		Publisher:   broker,
		Blobs:       driver,
		Notifier:    liveFanout,
		Concurrency: service.IngestConcurrency,
		QueueSize:   service.IngestQueueSize,
	})
	defer ingestRouter.Close()
	broker.SetMessageHandler(ingestRouter)

	httpRouter := mux.NewRouter()
	logger.AddRequestID(httpRouter)
	liveFanout.HandleRoutes(httpRouter)
	api.NewAPI(&api.Builder{
		Store:     persistence,
		Publisher: broker,
		Router:    httpRouter,
	})

	go func() {
		logger.Default().Infoln("listening for viewers on", service.HTTPAddr)
		if err := http.ListenAndServe(service.HTTPAddr, httpRouter); err != nil {
			logger.Default().Fatalln(err)
		}
	}()

	broker.Run()
}
