// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

//go:build integration

package integration

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/realmgate/realmgate/internal/auth"
	authpg "github.com/realmgate/realmgate/internal/auth/postgres"
	"github.com/realmgate/realmgate/internal/front"
	"github.com/realmgate/realmgate/internal/gate"
	"github.com/realmgate/realmgate/internal/store"
	"github.com/realmgate/realmgate/pkg/errutil"
)

// testEnv holds all the resources needed for integration tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	service   *auth.Service
}

// setupTestEnv starts PostgreSQL, runs migrations, and builds a service
// against the live database.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:    ctx,
		cancel: cancel,
	}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("realmgate_test"),
		postgres.WithUsername("realmgate"),
		postgres.WithPassword("realmgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr, 3)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	selector, err := gate.NewSelector([]gate.Endpoint{
		{Host: "g0.example.com", Port: 4301},
		{Host: "g1.example.com", Port: 4302},
		{Host: "g2.example.com", Port: 4303},
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.service, err = auth.NewService(
		authpg.NewAccountRepository(env.pool),
		auth.NewArgon2idHasher(),
		selector,
		auth.ServiceConfig{
			ExistenceTTL:      500 * time.Millisecond,
			LoginTTL:          500 * time.Millisecond,
			ReservedUsernames: []string{"admin*"},
		},
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.service != nil {
		env.service.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

var _ = Describe("Authentication Flow", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("Registration", func() {
		It("registers a new account and rejects the duplicate", func() {
			err := env.service.Register(env.ctx, "alice", "password123", "integration")
			Expect(err).NotTo(HaveOccurred())

			err = env.service.Register(env.ctx, "alice", "otherpassword", "integration")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(auth.CodeAlreadyExists))
		})

		It("rejects a username differing only in case", func() {
			Expect(env.service.Register(env.ctx, "alice", "password123", "integration")).To(Succeed())

			err := env.service.Register(env.ctx, "ALICE", "password123", "integration")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(auth.CodeAlreadyExists))
		})

		It("rejects reserved usernames before touching the store", func() {
			err := env.service.Register(env.ctx, "administrator", "password123", "integration")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(auth.CodeInvalidArgument))
		})
	})

	Describe("Login", func() {
		It("authenticates with the right password and assigns a stable gateway", func() {
			Expect(env.service.Register(env.ctx, "alice", "password123", "integration")).To(Succeed())

			id, err := env.service.Login(env.ctx, "alice", "password123")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeNumerically(">", 0))

			gw := env.service.SelectGateway(id)
			Expect(env.service.SelectGateway(id)).To(Equal(gw))
		})

		It("conflates unknown user and wrong password", func() {
			Expect(env.service.Register(env.ctx, "alice", "password123", "integration")).To(Succeed())

			_, wrongErr := env.service.Login(env.ctx, "alice", "wrongpassword")
			Expect(errutil.CodeOf(wrongErr)).To(Equal(auth.CodeInvalidCredentials))

			_, ghostErr := env.service.Login(env.ctx, "ghost", "password123")
			Expect(errutil.CodeOf(ghostErr)).To(Equal(auth.CodeInvalidCredentials))

			Expect(ghostErr.Error()).To(Equal(wrongErr.Error()))
		})
	})

	Describe("Removal", func() {
		It("frees the username for re-registration", func() {
			Expect(env.service.Register(env.ctx, "alice", "password123", "integration")).To(Succeed())

			id, err := env.service.Login(env.ctx, "alice", "password123")
			Expect(err).NotTo(HaveOccurred())

			Expect(env.service.Remove(env.ctx, id, "integration")).To(Succeed())

			Expect(env.service.Register(env.ctx, "alice", "newpassword", "integration")).To(Succeed())
		})

		It("reports a missing account", func() {
			err := env.service.Remove(env.ctx, 424242, "integration")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(auth.CodeNotFound))
		})
	})

	Describe("Front end", func() {
		It("serves the wire protocol end to end", func() {
			srv, err := front.NewServer(front.ServerConfig{
				Addr:        "127.0.0.1:0",
				IdleTimeout: time.Minute,
			}, env.service, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			srvCtx, srvCancel := context.WithCancel(env.ctx)
			defer srvCancel()
			go func() {
				defer GinkgoRecover()
				_ = srv.Run(srvCtx)
			}()

			Eventually(srv.Addr).ShouldNot(BeEmpty())

			conn, err := net.Dial("tcp", srv.Addr())
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Expect(conn.SetDeadline(time.Now().Add(10 * time.Second))).To(Succeed())

			reader := bufio.NewReader(conn)
			greeting, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(greeting).To(ContainSubstring("ready"))

			send := func(line string) string {
				_, err := conn.Write([]byte(line + "\n"))
				Expect(err).NotTo(HaveOccurred())
				reply, err := reader.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				return strings.TrimSpace(reply)
			}

			Expect(send("register bob password123")).To(Equal("OK registered"))
			Expect(send("login bob password123")).To(MatchRegexp(`^OK id=\d+ gate=g\d\.example\.com:\d+$`))
			Expect(send("login bob wrongpassword")).To(HavePrefix("ERR " + auth.CodeInvalidCredentials))
			Expect(send("quit")).To(Equal("OK bye"))
		})
	})
})
