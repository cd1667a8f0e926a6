package main

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

// Пользователи демо-режима. Токены для них выводятся в лог при старте.
const (
	demoCustomerID = int64(7)
	demoAdminID    = int64(1)
)

// seedCatalog наполняет хранилище в памяти демонстрационным каталогом.
func seedCatalog(repo *repository.MemoryRepository) {
	bulk := decimal.RequireFromString("10.50")
	repo.AddProduct(model.Product{
		SKU:          "VIAL-5ML",
		Name:         "Sterile vial 5 ml",
		Price:        decimal.NewFromInt(12),
		BulkPrice:    &bulk,
		BulkQuantity: 50,
		Stock:        10,
		Active:       true,
	})
	repo.AddProduct(model.Product{
		SKU:    "KIT-STD",
		Name:   "Standard kit",
		Price:  decimal.NewFromInt(100),
		Stock:  40,
		Active: true,
	})
	repo.AddProduct(model.Product{
		SKU:    "SWAB-100",
		Name:   "Swabs, pack of 100",
		Price:  decimal.RequireFromString("7.99"),
		Stock:  200,
		Active: true,
	})

	minTotal := decimal.NewFromInt(500)
	repo.AddDiscountCode(model.DiscountCode{
		Code:          "BULK15",
		Kind:          model.DiscountPercent,
		Value:         decimal.NewFromInt(15),
		MinOrderTotal: &minTotal,
		Active:        true,
	})
	repo.AddDiscountCode(model.DiscountCode{
		Code:       "WELCOME10",
		Kind:       model.DiscountFixed,
		Value:      decimal.NewFromInt(10),
		Active:     true,
		UsageLimit: model.Int64Ptr(1000),
	})
}
