// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/carlog/core/access"
	"github.com/relabs-tech/carlog/core/backend"
	"github.com/relabs-tech/carlog/core/backend/kss"
	"github.com/relabs-tech/carlog/core/csql"
	"github.com/relabs-tech/carlog/core/logger"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=" description:"the password for the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port the service listens on"`

	JwtPublicKey string `env:"JWT_PUBLIC_KEY,default=" description:"PEM encoded RSA public key for RS256 tokens"`
	JwtHmacKey   string `env:"JWT_HMAC_KEY,default=" description:"shared secret for HS256 tokens"`
	JwtIssuer    string `env:"JWT_ISSUER,default=" description:"accepted token issuer"`

	KssDriver    string `env:"KSS_DRIVER,default=Local" description:"blob storage driver for car images: Local, AWSS3 or empty for none"`
	KssLocalDir  string `env:"KSS_LOCAL_DIR,default=/var/lib/carlog/kss" description:"base directory of the local blob store"`
	KssS3Bucket  string `env:"KSS_S3_BUCKET,default=" description:"S3 bucket for car images"`
	KssS3Region  string `env:"KSS_S3_REGION,default=" description:"S3 region for car images"`
	KssAccessID  string `env:"KSS_ACCESS_ID,default=" description:"S3 access key ID"`
	KssAccessKey string `env:"KSS_ACCESS_KEY,default=" description:"S3 access key secret"`

	KafkaBrokers string `env:"KAFKA_BROKERS,default=" description:"comma separated list of kafka brokers for the event outbox"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logger.InitLogger(logrus.InfoLevel)
	rlog := logger.Default()

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "carlog")
	defer db.Close()

	kssConfiguration := kss.Configuration{
		DriverType: kss.DriverType(service.KssDriver),
		LocalConfiguration: &kss.LocalConfiguration{
			BasePath: service.KssLocalDir,
		},
		S3Configuration: &kss.S3Configuration{
			AWSBucketName: service.KssS3Bucket,
			AWSRegion:     service.KssS3Region,
			AccessID:      service.KssAccessID,
			AccessKey:     service.KssAccessKey,
			KeyPrefix:     "carlog",
		},
	}

	var brokers []string
	if service.KafkaBrokers != "" {
		brokers = strings.Split(service.KafkaBrokers, ",")
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	if service.JwtPublicKey != "" || service.JwtHmacKey != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			PublicKeyPEM: []byte(service.JwtPublicKey),
			HMACSecret:   []byte(service.JwtHmacKey),
			Issuer:       service.JwtIssuer,
		}))
	}

	b := backend.New(&backend.Builder{
		DB:               db,
		Router:           router,
		KssConfiguration: kssConfiguration,
		KafkaBrokers:     brokers,
	})
	defer b.Close()

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(handlers.CompressHandler(router))

	rlog.Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, handler)
}
