package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	demoPassword = "password123"
	practiceTest = "Practice Test: Module 2"
)

type demoUser struct {
	name  string
	email string
	role  model.Role
}

var demoUsers = []demoUser{
	{"Demo Admin", "admin@exstem.test", model.RoleAdmin},
	{"Demo Teacher", "teacher@exstem.test", model.RoleTeacher},
	{"Budi Santoso", "budi@exstem.test", model.RoleStudent},
	{"Siti Aminah", "siti@exstem.test", model.RoleStudent},
	{"Andi Pratama", "andi@exstem.test", model.RoleStudent},
}

var practiceQuestions = []model.Question{
	{
		Type:          model.QuestionTypeMultipleChoice,
		Content:       "What is the capital of France?",
		Options:       []string{"London", "Berlin", "Paris", "Madrid"},
		CorrectAnswer: model.TextAnswer("Paris"),
		Difficulty:    model.DifficultyEasy,
		Points:        1,
		Explanation:   "Paris is the capital and most populous city of France.",
	},
	{
		Type:          model.QuestionTypeTrueFalse,
		Content:       "The Earth is flat.",
		CorrectAnswer: model.TextAnswer("false"),
		Difficulty:    model.DifficultyEasy,
		Points:        1,
		Explanation:   "The Earth is approximately spherical in shape.",
	},
	{
		Type:          model.QuestionTypeShortAnswer,
		Content:       `What element has the chemical symbol "O"?`,
		CorrectAnswer: model.TextAnswer("Oxygen"),
		Difficulty:    model.DifficultyMedium,
		Points:        2,
		Explanation:   `Oxygen is represented by the symbol "O" on the periodic table.`,
	},
	{
		Type:          model.QuestionTypeMultipleChoice,
		Content:       "Which of the following is NOT a programming language?",
		Options:       []string{"Java", "Python", "HTML", "C++"},
		CorrectAnswer: model.TextAnswer("HTML"),
		Difficulty:    model.DifficultyMedium,
		Points:        2,
		Explanation:   "HTML is a markup language, not a programming language.",
	},
	{
		Type:    model.QuestionTypeEssay,
		Content: "Explain the concept of object-oriented programming and its key principles.",
		CorrectAnswer: model.TextAnswer("Object-oriented programming (OOP) is a programming paradigm that uses objects " +
			"to design applications. Its main principles are encapsulation, inheritance, polymorphism and abstraction."),
		Difficulty:  model.DifficultyHard,
		Points:      5,
		Explanation: "A comprehensive answer should cover all four main principles and provide examples.",
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	questions := repository.NewQuestionRepository(pool)
	tests := repository.NewTestRepository(pool)

	fmt.Println("=== Seeding demo users ===")

	hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	teacherID := 0
	for _, d := range demoUsers {
		if existing, err := users.GetByEmail(ctx, d.email); err == nil {
			fmt.Printf("Skipping %s, already exists\n", d.email)
			if d.role == model.RoleTeacher {
				teacherID = existing.ID
			}
			continue
		}

		u := &model.User{Name: d.name, Email: d.email, Role: d.role, PasswordHash: string(hash)}
		if err := users.Create(ctx, u); err != nil {
			log.Fatal().Err(err).Str("email", d.email).Msg("Failed to create user")
		}
		if d.role == model.RoleTeacher {
			teacherID = u.ID
		}
		fmt.Printf("Created %s %s (ID %d)\n", u.Role, u.Email, u.ID)
	}

	fmt.Printf("\n=== Seeding %q ===\n", practiceTest)

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE title = $1)`, practiceTest).Scan(&exists); err != nil {
		log.Fatal().Err(err).Msg("Failed to check existing test")
	}
	if exists {
		fmt.Println("Test already present, nothing to do")
		return
	}

	ids := make([]uuid.UUID, 0, len(practiceQuestions))
	for i := range practiceQuestions {
		q := practiceQuestions[i]
		if err := questions.Create(ctx, &q); err != nil {
			log.Fatal().Err(err).Int("index", i).Msg("Failed to create question")
		}
		ids = append(ids, q.ID)
	}

	test := &model.Test{
		Title:              practiceTest,
		Description:        "Self-assessment to prepare for the upcoming exam",
		CreatedBy:          teacherID,
		QuestionIDs:        ids,
		TimeLimit:          30,
		PassingScore:       0,
		RandomizeQuestions: true,
		ShowResults:        true,
		RequireProctoring:  true,
	}
	if err := tests.Create(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}

	fmt.Printf("Created test %s with %d questions\n", test.ID, len(ids))
	fmt.Printf("\nSeed completed! Demo password for every account: %s\n", demoPassword)
}
