package testutil

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/bawdo/relq/model"

	_ "modernc.org/sqlite"
)

// Northwind entity types. Field order matches the column order of the
// fixture tables.
var Customer, Order, OrderDetail, Product = northwindTypes()

func northwindTypes() (customer, order, detail, product *model.Struct) {
	customer = model.NewStruct("Customer")
	order = model.NewStruct("Order")
	detail = model.NewStruct("OrderDetail")
	product = model.NewStruct("Product")

	customer.Define(
		model.Field{Name: "CustomerID", Type: model.String},
		model.Field{Name: "CompanyName", Type: model.String},
		model.Field{Name: "ContactName", Type: model.Nullable(model.String)},
		model.Field{Name: "City", Type: model.String},
		model.Field{Name: "Country", Type: model.String},
		model.Field{Name: "Orders", Type: model.SeqOf(order)},
	)
	order.Define(
		model.Field{Name: "OrderID", Type: model.Int},
		model.Field{Name: "CustomerID", Type: model.String},
		model.Field{Name: "OrderDate", Type: model.Time},
		model.Field{Name: "Freight", Type: model.Decimal},
		model.Field{Name: "ShipCity", Type: model.String},
		model.Field{Name: "Customer", Type: customer},
		model.Field{Name: "Details", Type: model.SeqOf(detail)},
	)
	detail.Define(
		model.Field{Name: "OrderID", Type: model.Int},
		model.Field{Name: "ProductID", Type: model.Int},
		model.Field{Name: "UnitPrice", Type: model.Decimal},
		model.Field{Name: "Quantity", Type: model.Int},
		model.Field{Name: "Product", Type: product},
	)
	product.Define(
		model.Field{Name: "ProductID", Type: model.Int},
		model.Field{Name: "ProductName", Type: model.String},
		model.Field{Name: "UnitPrice", Type: model.Decimal},
		model.Field{Name: "Discontinued", Type: model.Bool},
	)
	return customer, order, detail, product
}

// NorthwindSchema creates the fixture tables.
const NorthwindSchema = `
CREATE TABLE "Customers" (
	"CustomerID" TEXT PRIMARY KEY,
	"CompanyName" TEXT NOT NULL,
	"ContactName" TEXT,
	"City" TEXT NOT NULL,
	"Country" TEXT NOT NULL
);
CREATE TABLE "Orders" (
	"OrderID" INTEGER PRIMARY KEY,
	"CustomerID" TEXT NOT NULL REFERENCES "Customers"("CustomerID"),
	"OrderDate" DATETIME NOT NULL,
	"Freight" NUMERIC NOT NULL,
	"ShipCity" TEXT NOT NULL
);
CREATE TABLE "Products" (
	"ProductID" INTEGER PRIMARY KEY,
	"ProductName" TEXT NOT NULL,
	"UnitPrice" NUMERIC NOT NULL,
	"Discontinued" BOOLEAN NOT NULL
);
CREATE TABLE "Order Details" (
	"OrderID" INTEGER NOT NULL REFERENCES "Orders"("OrderID"),
	"ProductID" INTEGER NOT NULL REFERENCES "Products"("ProductID"),
	"UnitPrice" NUMERIC NOT NULL,
	"Quantity" INTEGER NOT NULL,
	PRIMARY KEY ("OrderID", "ProductID")
);`

// NorthwindData seeds the fixture tables. Seven customers, four of them in
// London; SEVES and FISSA have no orders.
const NorthwindData = `
INSERT INTO "Customers" VALUES
	('ALFKI', 'Alfreds Futterkiste', 'Maria Anders', 'Berlin', 'Germany'),
	('ANATR', 'Ana Trujillo Emparedados y helados', 'Ana Trujillo', 'México D.F.', 'Mexico'),
	('AROUT', 'Around the Horn', 'Thomas Hardy', 'London', 'UK'),
	('BSBEV', 'B''s Beverages', 'Victoria Ashworth', 'London', 'UK'),
	('CONSH', 'Consolidated Holdings', NULL, 'London', 'UK'),
	('SEVES', 'Seven Seas Imports', 'Hari Kumar', 'London', 'UK'),
	('FISSA', 'FISSA Fabrica Inter. Salchichas S.A.', 'Diego Roel', 'Madrid', 'Spain');
INSERT INTO "Orders" VALUES
	(10643, 'ALFKI', '1997-08-25 00:00:00', 29.46, 'Berlin'),
	(10692, 'ALFKI', '1997-10-03 00:00:00', 61.02, 'Berlin'),
	(10702, 'ALFKI', '1997-10-13 00:00:00', 23.94, 'Berlin'),
	(10308, 'ANATR', '1996-09-18 00:00:00', 1.61, 'México D.F.'),
	(10355, 'AROUT', '1996-11-15 00:00:00', 41.95, 'London'),
	(10383, 'AROUT', '1996-12-16 00:00:00', 34.24, 'London'),
	(10289, 'BSBEV', '1996-08-26 00:00:00', 22.77, 'London'),
	(10435, 'CONSH', '1997-02-04 00:00:00', 9.21, 'London');
INSERT INTO "Products" VALUES
	(1, 'Chai', 18.00, 0),
	(2, 'Chang', 19.00, 0),
	(3, 'Aniseed Syrup', 10.00, 0),
	(28, 'Rössle Sauerkraut', 45.60, 1),
	(39, 'Chartreuse verte', 18.00, 0);
INSERT INTO "Order Details" VALUES
	(10643, 28, 45.60, 15),
	(10643, 39, 18.00, 21),
	(10692, 1, 18.00, 20),
	(10702, 3, 10.00, 6),
	(10308, 2, 19.00, 1),
	(10355, 1, 18.00, 25),
	(10383, 2, 19.00, 20),
	(10289, 3, 10.00, 30),
	(10435, 2, 19.00, 10),
	(10435, 39, 18.00, 10);`

// NorthwindDB opens an in-memory SQLite database seeded with the fixture.
// The pool holds a single connection so every statement sees the same
// database.
func NorthwindDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{NorthwindSchema, NorthwindData} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed northwind: %v", err)
		}
	}
	return db
}

// Count runs a COUNT(*) query and returns the result.
func Count(t testing.TB, db *sql.DB, table, where string) int {
	t.Helper()
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(q).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// NorthwindMapping declares the fixture entities for mapping.LoadAttributeMapping.
// OrderID is generated by the database.
const NorthwindMapping = `
entities:
  - type: Customer
    table: Customers
    columns:
      - {member: CustomerID, identity: true, type: nchar(5)}
      - {member: CompanyName, type: nvarchar(40)}
      - {member: ContactName, type: nvarchar(30)}
      - {member: City, type: nvarchar(15)}
      - {member: Country, type: nvarchar(15)}
    associations:
      - {member: Orders, keys: [CustomerID], related: [CustomerID]}
  - type: Order
    table: Orders
    columns:
      - {member: OrderID, identity: true, generated: true}
      - {member: CustomerID, type: nchar(5)}
      - {member: OrderDate}
      - {member: Freight}
      - {member: ShipCity}
    associations:
      - {member: Customer, keys: [CustomerID], related: [CustomerID]}
      - {member: Details, keys: [OrderID], related: [OrderID]}
  - type: OrderDetail
    table: Order Details
    columns:
      - {member: OrderID, identity: true}
      - {member: ProductID, identity: true}
      - {member: UnitPrice}
      - {member: Quantity}
    associations:
      - {member: Product, keys: [ProductID], related: [ProductID]}
  - type: Product
    table: Products
    columns:
      - {member: ProductID, identity: true}
      - {member: ProductName}
      - {member: UnitPrice}
      - {member: Discontinued}
`

// NorthwindTypes lists the fixture entity types.
func NorthwindTypes() []*model.Struct {
	return []*model.Struct{Customer, Order, OrderDetail, Product}
}
